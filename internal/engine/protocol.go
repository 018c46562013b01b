package engine

import (
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/algoprep/internal/value"
)

// request is one line sent to the worker.
type request struct {
	ID       string                 `json:"id"`
	Code     string                 `json:"code"`
	FuncName string                 `json:"funcName"`
	Args     map[string]value.Value `json:"args"`
	Types    map[string]value.Type  `json:"types,omitempty"`
	Stdin    string                 `json:"stdin"`
}

// response is one line received from the worker. Timeout and Interrupted
// are never sent by the worker itself; the engine synthesises them when it
// abandons a request.
type response struct {
	Type        string `json:"type,omitempty"`
	ID          string `json:"id,omitempty"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Timeout     bool   `json:"timeout,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// payload is the JSON document carried in response.Result.
type payload struct {
	Return json.RawMessage `json:"return"`
	Stdout string          `json:"stdout"`
}

func (r response) result() Result {
	switch {
	case r.Timeout:
		return Result{Kind: TimedOut}
	case r.Interrupted:
		return Result{Kind: Cancelled}
	case r.Error != "":
		return Result{Kind: RuntimeError, Error: r.Error}
	}
	var p payload
	if err := json.Unmarshal([]byte(r.Result), &p); err != nil {
		return Result{Kind: RuntimeError, Error: fmt.Sprintf("malformed result from interpreter: %v", err)}
	}
	ret := p.Return
	if len(ret) == 0 {
		ret = json.RawMessage("null")
	}
	return Result{Kind: OK, Return: ret, Stdout: p.Stdout}
}
