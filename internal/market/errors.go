package market

import (
	"errors"
	"fmt"
)

// NormalizationErrorKind classifies why a raw record was rejected.
type NormalizationErrorKind string

const (
	ErrKindMissingField  NormalizationErrorKind = "missing_field"
	ErrKindInvalidPrice  NormalizationErrorKind = "invalid_price"
	ErrKindUnknownSource NormalizationErrorKind = "unknown_source"
	ErrKindMalformed     NormalizationErrorKind = "malformed_payload"
)

// NormalizationError is a per-record, non-fatal rejection. The record
// is skipped and the batch continues; these are collected into the
// IngestReport rather than propagated.
type NormalizationError struct {
	Kind     NormalizationErrorKind `json:"kind"`
	Source   Source                 `json:"source,omitempty"`
	RecordID string                 `json:"record_id,omitempty"`
	Field    string                 `json:"field,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
}

func (e *NormalizationError) Error() string {
	switch e.Kind {
	case ErrKindMissingField:
		return fmt.Sprintf("record %s: missing required field %q", e.RecordID, e.Field)
	case ErrKindInvalidPrice:
		return fmt.Sprintf("record %s: invalid price: %s", e.RecordID, e.Reason)
	case ErrKindUnknownSource:
		return fmt.Sprintf("unknown source: %s", e.Reason)
	default:
		return fmt.Sprintf("record %s: %s", e.RecordID, e.Reason)
	}
}

// NewMissingFieldError reports a record missing a required field.
func NewMissingFieldError(source Source, recordID, field string) *NormalizationError {
	return &NormalizationError{Kind: ErrKindMissingField, Source: source, RecordID: recordID, Field: field}
}

// NewInvalidPriceError reports a non-numeric, negative, or otherwise
// unusable price.
func NewInvalidPriceError(source Source, recordID, reason string) *NormalizationError {
	return &NormalizationError{Kind: ErrKindInvalidPrice, Source: source, RecordID: recordID, Field: "price", Reason: reason}
}

// NewUnknownSourceError reports a source tag outside the known set.
func NewUnknownSourceError(raw string) *NormalizationError {
	return &NormalizationError{Kind: ErrKindUnknownSource, Reason: raw}
}

// NewMalformedPayloadError reports a payload that could not be decoded
// against its provider schema.
func NewMalformedPayloadError(source Source, recordID, reason string) *NormalizationError {
	return &NormalizationError{Kind: ErrKindMalformed, Source: source, RecordID: recordID, Reason: reason}
}

// IsNormalizationError reports whether err is a per-record rejection of
// the given kind.
func IsNormalizationError(err error, kind NormalizationErrorKind) bool {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Kind == kind
	}
	return false
}

// ProviderError means an external data provider was unreachable, rate
// limited, or returned an unusable response. It aborts ingest for that
// source only; other sources are unaffected.
type ProviderError struct {
	Provider    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AggregationError means a route's refresh could not compute a summary.
// Fatal for that route's refresh only; other routes are unaffected.
type AggregationError struct {
	Route  Route
	Window Window
	Reason string
	Err    error
}

func (e *AggregationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aggregation for %s [%s, %s): %s: %v",
			e.Route.Key(), e.Window.Start.Format("2006-01-02"), e.Window.End.Format("2006-01-02"), e.Reason, e.Err)
	}
	return fmt.Sprintf("aggregation for %s [%s, %s): %s",
		e.Route.Key(), e.Window.Start.Format("2006-01-02"), e.Window.End.Format("2006-01-02"), e.Reason)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// InsightGenerationError means the text-generation collaborator failed,
// timed out, or returned unusable text. Always recoverable: the caller
// falls back to deterministic template insights.
type InsightGenerationError struct {
	Reason string
	Err    error
}

func (e *InsightGenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insight generation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("insight generation: %s", e.Reason)
}

func (e *InsightGenerationError) Unwrap() error {
	return e.Err
}

// IngestReport is the batch-level result of an ingest call. Per-record
// errors are collected here, never thrown to abort the whole batch.
type IngestReport struct {
	Source   Source                `json:"source"`
	Accepted int                   `json:"accepted"`
	Rejected int                   `json:"rejected"`
	Errors   []*NormalizationError `json:"errors,omitempty"`
}
