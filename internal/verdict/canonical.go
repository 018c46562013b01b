package verdict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Canonical re-serializes a JSON document compactly, keeping object key
// order and rendering every number as a float64 the way JavaScript does.
// So 1.0 and 1 compare equal while "1" and 1 do not.
func Canonical(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b bytes.Buffer
	if err := writeCanonical(dec, &b); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", fmt.Errorf("trailing data after JSON value")
	}
	return b.String(), nil
}

func writeCanonical(dec *json.Decoder, b *bytes.Buffer) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			b.WriteByte('[')
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteByte(',')
				}
				if err := writeCanonical(dec, b); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			b.WriteByte(']')
		case '{':
			b.WriteByte('{')
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteByte(',')
				}
				key, err := dec.Token()
				if err != nil {
					return err
				}
				k, _ := json.Marshal(key)
				b.Write(k)
				b.WriteByte(':')
				if err := writeCanonical(dec, b); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			b.WriteByte('}')
		default:
			return fmt.Errorf("unexpected delimiter %q", t)
		}
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return fmt.Errorf("number %s: %w", t, err)
		}
		n, err := json.Marshal(f)
		if err != nil {
			return err
		}
		b.Write(n)
	default:
		v, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(v)
	}
	return nil
}

// sameJSON compares two JSON documents by canonical form.
func sameJSON(a, b []byte) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}
