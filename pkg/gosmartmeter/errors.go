package gosmartmeter

import (
	"context"
	"errors"
	"fmt"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/crypto"
	"github.com/d21d3q/gosmartmeter/internal/driver"
	"github.com/d21d3q/gosmartmeter/internal/frame"
)

// Stage names the pipeline step that rejected a receive window.
type Stage string

const (
	StageInput  Stage = "input"
	StageFrame  Stage = "frame"
	StageCrypto Stage = "crypto"
	StageReplay Stage = "replay"
	StageCosem  Stage = "cosem"
)

// Re-exported sentinels so callers can match with errors.Is without
// importing internal packages.
var (
	ErrInvalidStart   = frame.ErrInvalidStart
	ErrLengthMismatch = frame.ErrLengthMismatch
	ErrInvalidStop    = frame.ErrInvalidStop
	ErrChecksum       = frame.ErrChecksum

	ErrKeyRequired              = crypto.ErrKeyRequired
	ErrInvalidKey               = crypto.ErrInvalidKey
	ErrInvalidApplicationHeader = crypto.ErrInvalidApplicationHeader
	ErrUnsupportedCipherSuite   = crypto.ErrUnsupportedCipherSuite
	ErrInvalidFragmentHeader    = crypto.ErrInvalidFragmentHeader
	ErrAuthenticationFailed     = crypto.ErrAuthenticationFailed

	ErrUnsupportedElementShape = cosem.ErrUnsupportedElementShape
	ErrUnsupportedValueType    = cosem.ErrUnsupportedValueType
	ErrOutOfBounds             = cosem.ErrOutOfBounds

	ErrUnknownProfile = driver.ErrUnknownProfile
)

// DecodeError wraps the innermost cause of a failed decode with the stage
// that produced it.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) error {
	return &DecodeError{Stage: stage, Err: err}
}

var kinds = []struct {
	err  error
	name string
}{
	{frame.ErrInvalidStart, "InvalidStart"},
	{frame.ErrLengthMismatch, "LengthMismatch"},
	{frame.ErrInvalidStop, "InvalidStop"},
	{frame.ErrChecksum, "Checksum"},
	{crypto.ErrKeyRequired, "KeyRequired"},
	{crypto.ErrInvalidKey, "InvalidKey"},
	{crypto.ErrInvalidApplicationHeader, "InvalidApplicationHeader"},
	{crypto.ErrUnsupportedCipherSuite, "UnsupportedCipherSuite"},
	{crypto.ErrInvalidFragmentHeader, "InvalidFragmentHeader"},
	{crypto.ErrAuthenticationFailed, "AuthenticationFailed"},
	{ErrReplay, "Replay"},
	{cosem.ErrUnsupportedElementShape, "UnsupportedElementShape"},
	{cosem.ErrUnsupportedValueType, "UnsupportedValueType"},
	{cosem.ErrOutOfBounds, "OutOfBounds"},
	{driver.ErrUnknownProfile, "UnknownProfile"},
	{context.Canceled, "Canceled"},
	{context.DeadlineExceeded, "DeadlineExceeded"},
}

// Kind returns the failure kind of err, e.g. "AuthenticationFailed", or
// "Other" when err matches none. A nil error yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Other"
}

// StageOf returns the stage recorded in err, or "" when err is not a
// DecodeError.
func StageOf(err error) Stage {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}
