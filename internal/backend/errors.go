package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a capture failure into the small set callers act on.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDeviceUnavailable means no endpoint of the requested role exists.
	KindDeviceUnavailable
	// KindAcquisitionFailed means a backend call failed at a specific
	// acquisition stage.
	KindAcquisitionFailed
	// KindUnsupportedFormat means the converter cannot map the source
	// encoding. Recoverable: one chunk is dropped.
	KindUnsupportedFormat
	// KindAlreadyActive and KindNotActive are lifecycle misuse, not
	// hardware faults.
	KindAlreadyActive
	KindNotActive
	// KindInvalidConfig means a config value could not be clamped into
	// range meaningfully.
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindAcquisitionFailed:
		return "acquisition failed"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindAlreadyActive:
		return "already active"
	case KindNotActive:
		return "not active"
	case KindInvalidConfig:
		return "invalid config"
	}
	return "unknown"
}

// Stage names the acquisition step that failed.
type Stage string

const (
	StageEnumerate     Stage = "enumerate"
	StageActivate      Stage = "activate"
	StageFormatQuery   Stage = "format-query"
	StageInitialize    Stage = "initialize"
	StageBufferQuery   Stage = "buffer-query"
	StageReaderAcquire Stage = "reader-acquire"
	StageStreamStart   Stage = "stream-start"
)

// Error is the structured capture error surfaced to callers.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
		}
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a stage-tagged capture error.
func NewError(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
