package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected failures so callers can branch on the class
// instead of matching error strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindMalformedPayload
	KindUpstream
	KindTranscoding
	KindGeneration
	KindDelivery
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindUpstream:
		return "upstream"
	case KindTranscoding:
		return "transcoding"
	case KindGeneration:
		return "generation"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// PipelineError carries the failure class alongside the wrapped cause.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// E wraps err with a kind and the failing operation.
func E(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// Errorf is E with fmt-style message construction.
func Errorf(kind ErrorKind, op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind, or KindUnknown for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
