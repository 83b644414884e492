package collivery

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Error codes recorded by the client. Transport failures use the HTTP
// status code as their code.
const (
	CodeMissingData      = "missing_data"
	CodeInvalidData      = "invalid_data"
	CodeResultUnexpected = "result_unexpected"
	CodeTransportFailed  = "transport_failed"
)

// ErrorSet maps an error code to its message. A later error with the same
// code replaces the earlier message.
type ErrorSet map[string]string

// Add records message under code.
func (s ErrorSet) Add(code, message string) {
	s[code] = message
}

// Has reports whether code is present.
func (s ErrorSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Clone returns a copy of s.
func (s ErrorSet) Clone() ErrorSet {
	out := make(ErrorSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// FieldError is a single failed check, in the order it was recorded.
// Field is empty for errors not tied to a request field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError is returned by an operation that recorded errors. It
// carries only the errors of that operation.
type ValidationError struct {
	Errors ErrorSet
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	codes := make([]string, 0, len(e.Errors))
	for code := range e.Errors {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = code + ": " + e.Errors[code]
	}
	return "collivery: " + strings.Join(parts, "; ")
}

// Has reports whether the operation recorded code.
func (e *ValidationError) Has(code string) bool {
	return e.Errors.Has(code)
}

// Count returns how many checks failed with code.
func (e *ValidationError) Count(code string) int {
	n := 0
	for _, f := range e.Fields {
		if f.Code == code {
			n++
		}
	}
	return n
}

// For returns the failed checks recorded against field.
func (e *ValidationError) For(field string) []FieldError {
	var out []FieldError
	for _, f := range e.Fields {
		if f.Field == field {
			out = append(out, f)
		}
	}
	return out
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// APIError is a failed call to the Collivery API.
type APIError struct {
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("collivery api: %s", e.Message)
	}
	return fmt.Sprintf("collivery api (%d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// Code returns the error code recorded for this failure.
func (e *APIError) Code() string {
	if e.StatusCode == 0 {
		return CodeTransportFailed
	}
	return strconv.Itoa(e.StatusCode)
}

// op collects the errors of one client operation and mirrors them into the
// client-wide accumulator.
type op struct {
	client *Client
	errs   ErrorSet
	fields []FieldError

	towns map[int]string
}

func (c *Client) begin() *op {
	return &op{client: c, errs: make(ErrorSet)}
}

func (o *op) fail(field, code, message string) {
	o.errs.Add(code, message)
	o.fields = append(o.fields, FieldError{Field: field, Code: code, Message: message})
	o.client.errors.Add(code, message)
}

func (o *op) failTransport(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		o.fail("", apiErr.Code(), apiErr.Message)
		return
	}
	o.fail("", CodeTransportFailed, err.Error())
}

func (o *op) failed() bool {
	return len(o.errs) > 0
}

func (o *op) err() error {
	if !o.failed() {
		return nil
	}
	fields := make([]FieldError, len(o.fields))
	copy(fields, o.fields)
	return &ValidationError{Errors: o.errs.Clone(), Fields: fields}
}
