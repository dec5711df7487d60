// Package provider defines the upstream weather client contract and its
// failure taxonomy. A Fetch performs exactly one upstream call; retrying is
// the caller's decision.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

type Client interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64) (model.Payload, error)
}

type Kind string

const (
	KindTransport   Kind = "transport"
	KindStatus      Kind = "status"
	KindShape       Kind = "shape"
	KindCircuitOpen Kind = "circuit_open"
	KindConfig      Kind = "config"
)

var (
	ErrTransport   = errors.New("upstream unreachable")
	ErrStatus      = errors.New("upstream returned non-success status")
	ErrShape       = errors.New("upstream response malformed")
	ErrCircuitOpen = errors.New("upstream circuit open")
	ErrConfig      = errors.New("provider misconfigured")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindStatus:
		return ErrStatus
	case KindShape:
		return ErrShape
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindConfig:
		return ErrConfig
	}
	return nil
}

// Error is the only error type a Client returns.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind.sentinel())
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func Errorf(kind Kind, provider string, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the failure kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
