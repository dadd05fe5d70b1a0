package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

// Request is the body of a run call. Pointer fields distinguish "absent"
// (or null) from zero values so defaults can be applied.
type Request struct {
	Code        *string `json:"code"`
	Timeout     *int    `json:"timeout"`
	MemoryLimit *int    `json:"memory_limit"`
	AutoPrint   *bool   `json:"auto_print"`
}

// Bounds are the accepted ranges and defaults for a Request.
type Bounds struct {
	DefaultTimeout  int // seconds
	MinTimeout      int
	MaxTimeout      int
	DefaultMemoryMB int
	MinMemoryMB     int
	MaxMemoryMB     int
	MaxCodeChars    int
}

// DefaultBounds returns the service's standard limits.
func DefaultBounds() Bounds {
	return Bounds{
		DefaultTimeout:  30,
		MinTimeout:      1,
		MaxTimeout:      300,
		DefaultMemoryMB: 512,
		MinMemoryMB:     64,
		MaxMemoryMB:     2048,
		MaxCodeChars:    1_000_000,
	}
}

// FieldError describes one problem with a request body.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError is a request body that cannot be accepted. It marshals
// to the {"detail": [...]} shape clients expect for a 422.
type ValidationError struct {
	Detail []FieldError `json:"detail"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Detail))
	for i, d := range e.Detail {
		msgs[i] = strings.Join(d.Loc, ".") + ": " + d.Msg
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, msg, typ string) {
	e.Detail = append(e.Detail, FieldError{Loc: []string{"body", field}, Msg: msg, Type: typ})
}

// DecodeRequest reads one JSON request body. Unknown fields, wrong types
// and malformed JSON are reported as a *ValidationError.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, decodeError(err)
	}
	if dec.More() {
		return Request{}, &ValidationError{Detail: []FieldError{{
			Loc: []string{"body"}, Msg: "JSON decode error: trailing data", Type: "json_invalid",
		}}}
	}
	return req, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		want := typeErr.Type.Kind().String()
		switch want {
		case "int":
			want = "integer"
		case "bool":
			want = "boolean"
		case "struct":
			want = "dictionary"
		}
		loc := []string{"body"}
		if typeErr.Field != "" {
			loc = append(loc, typeErr.Field)
		}
		return &ValidationError{Detail: []FieldError{{
			Loc:  loc,
			Msg:  "Input should be a valid " + want,
			Type: want + "_type",
		}}}
	}

	const unknownPrefix = "json: unknown field "
	if msg := err.Error(); strings.HasPrefix(msg, unknownPrefix) {
		field := strings.Trim(strings.TrimPrefix(msg, unknownPrefix), `"`)
		return &ValidationError{Detail: []FieldError{{
			Loc: []string{"body", field}, Msg: "Extra inputs are not permitted", Type: "extra_forbidden",
		}}}
	}

	return &ValidationError{Detail: []FieldError{{
		Loc: []string{"body"}, Msg: "JSON decode error: " + err.Error(), Type: "json_invalid",
	}}}
}

// Normalize applies defaults, checks ranges and returns the execution
// request. All problems are reported together.
func (r Request) Normalize(b Bounds) (sandbox.Request, error) {
	verr := &ValidationError{}

	var code string
	switch {
	case r.Code == nil:
		verr.add("code", "Field required", "missing")
	case strings.TrimSpace(*r.Code) == "":
		verr.add("code", "Value error, Code cannot be empty", "value_error")
	case utf8.RuneCountInString(*r.Code) > b.MaxCodeChars:
		verr.add("code", fmt.Sprintf("Value error, Code too large (max %d characters)", b.MaxCodeChars), "value_error")
	default:
		code = *r.Code
	}

	timeout := rangeCheck(verr, "timeout", r.Timeout, b.DefaultTimeout, b.MinTimeout, b.MaxTimeout)
	memory := rangeCheck(verr, "memory_limit", r.MemoryLimit, b.DefaultMemoryMB, b.MinMemoryMB, b.MaxMemoryMB)

	autoPrint := true
	if r.AutoPrint != nil {
		autoPrint = *r.AutoPrint
	}

	if len(verr.Detail) > 0 {
		return sandbox.Request{}, verr
	}
	return sandbox.Request{
		Source:        code,
		Timeout:       time.Duration(timeout) * time.Second,
		MemoryLimitMB: memory,
		AutoPrint:     autoPrint,
	}, nil
}

func rangeCheck(verr *ValidationError, field string, v *int, def, lo, hi int) int {
	if v == nil {
		return def
	}
	switch {
	case *v < lo:
		verr.add(field, fmt.Sprintf("Input should be greater than or equal to %d", lo), "greater_than_equal")
	case *v > hi:
		verr.add(field, fmt.Sprintf("Input should be less than or equal to %d", hi), "less_than_equal")
	}
	return *v
}
