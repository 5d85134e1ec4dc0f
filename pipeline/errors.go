package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for the ingestion path. The unit of failure isolation is a
// single ping: none of these abort processing of other tags or pings.
var (
	// ErrInvalidTelemetry marks malformed pings: bad coordinates, negative
	// speed or battery, missing fields.
	ErrInvalidTelemetry = errors.New("invalid telemetry")

	// ErrUnknownTag marks pings for a tag that was never provisioned. It is
	// a subtype of ErrInvalidTelemetry so callers checking only the broad
	// class still catch it, while ops can match it separately.
	ErrUnknownTag = fmt.Errorf("%w: unknown tag", ErrInvalidTelemetry)

	// ErrTenantMismatch marks pings whose claimed organization does not
	// match the tag's registered organization. Security-relevant; routed to
	// the audit sink rather than silently dropped.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrStaleState is returned by the state store when a commit lost a
	// concurrent-update race or would move the watermark backwards.
	ErrStaleState = errors.New("stale state")
)
