package storage

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
)

// Fingerprints are change detectors for the three synced documents.
type Fingerprints struct {
	Meta  string
	Code  string
	Tests string
}

// metadata is the remote metadata document.
type metadata struct {
	LastSaved  int64  `json:"lastSaved"`
	Name       string `json:"name"`
	HidePassed *bool  `json:"hidePassed,omitempty"`
	HideSample *bool  `json:"hideSample,omitempty"`
	Timeout    *int   `json:"timeout,omitempty"`
}

func metadataOf(st *UserState) metadata {
	hp, hs, to := st.HidePassed, st.HideSample, st.Timeout
	return metadata{LastSaved: st.LastSaved, Name: st.Name, HidePassed: &hp, HideSample: &hs, Timeout: &to}
}

func encodeMetadata(st *UserState) string {
	data, _ := json.Marshal(metadataOf(st))
	return string(data)
}

func encodeTests(st *UserState) string {
	if len(st.Tests) == 0 {
		return "[]"
	}
	data, err := json.Marshal(st.Tests)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func hashString(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Fingerprint hashes each document of st, namespaced by slug.
func Fingerprint(slug string, st *UserState) Fingerprints {
	return Fingerprints{
		Meta:  hashString(slug + "::meta::" + encodeMetadata(st)),
		Code:  hashString(slug + "::code::" + st.Code),
		Tests: hashString(slug + "::tests::" + encodeTests(st)),
	}
}
