package domain

import (
	"errors"
	"fmt"
)

type GatewayErrorKind string

const (
	// GatewayTransient covers timeouts, 5xx responses, and rate limiting;
	// the sync is logged and retried next tick.
	GatewayTransient GatewayErrorKind = "transient"
	// GatewayPermanent covers non-rate-limit 4xx responses; the sync is
	// skipped and an operator alert raised, but the challenge never fails
	// because of it.
	GatewayPermanent GatewayErrorKind = "permanent"
	// GatewayAuth marks authentication failures against the platform.
	GatewayAuth GatewayErrorKind = "auth"
)

// GatewayError classifies a trading-platform failure so the ingestion
// pipeline can branch on the kind instead of inspecting transport details.
type GatewayError struct {
	Kind       GatewayErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s (%s): status %d", e.Op, e.Kind, e.StatusCode)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether err is a gateway error safe to retry next tick.
func Transient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == GatewayTransient
}
