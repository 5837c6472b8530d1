// Package errors defines the failure taxonomy of the capture and correction pipeline.
//
// Every failure that leaves a component is either one of the sentinel errors below
// or a *PipelineError whose Kind maps onto one of them, so callers can branch with
// errors.Is:
//
//	if errors.Is(err, slerrors.ErrNegotiationFailed) {
//	    // fall back to chunked upload
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per failure class.
var (
	// ErrPermissionDenied indicates device acquisition (or a server call) was refused.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeviceUnavailable indicates no usable audio track was found.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNegotiationFailed indicates the signaling or transport handshake failed.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrUploadFailed indicates a chunk request failed and the upload was aborted.
	ErrUploadFailed = errors.New("upload failed")

	// ErrChannelDisconnected indicates the push channel dropped.
	ErrChannelDisconnected = errors.New("channel disconnected")

	// ErrInvalidRange indicates an assignment was attempted without a resolved time slice.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidTransition indicates a state machine was asked for an illegal transition.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Kind classifies a PipelineError.
type Kind string

const (
	KindPermissionDenied    Kind = "permission_denied"
	KindDeviceUnavailable   Kind = "device_unavailable"
	KindNegotiationFailed   Kind = "negotiation_failed"
	KindUploadFailed        Kind = "upload_failed"
	KindChannelDisconnected Kind = "channel_disconnected"
	KindInvalidRange        Kind = "invalid_range"
	KindInvalidTransition   Kind = "invalid_transition"
	KindUnknown             Kind = "unknown"
)

var sentinels = map[Kind]error{
	KindPermissionDenied:    ErrPermissionDenied,
	KindDeviceUnavailable:   ErrDeviceUnavailable,
	KindNegotiationFailed:   ErrNegotiationFailed,
	KindUploadFailed:        ErrUploadFailed,
	KindChannelDisconnected: ErrChannelDisconnected,
	KindInvalidRange:        ErrInvalidRange,
	KindInvalidTransition:   ErrInvalidTransition,
}

// PipelineError is a classified failure with the stage that produced it.
type PipelineError struct {
	Kind    Kind
	Stage   string
	Message string
	Cause   error
}

// New builds a PipelineError.
func New(kind Kind, stage, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Cause: cause}
}

func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	parts := []string{string(e.Kind)}
	for _, p := range []string{e.Stage, msg} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ": ")
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error's kind.
func (e *PipelineError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}

// IsRecoverable reports whether the pipeline can recover locally from err.
// Negotiation failures fall back to chunked upload; nothing else is retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNegotiationFailed)
}

// UserMessage returns a short human-readable description for notifications.
func UserMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindPermissionDenied:
		return "Audio permission denied. Allow microphone access and try again."
	case KindDeviceUnavailable:
		return "No audio track available on the selected device."
	case KindNegotiationFailed:
		return "Could not establish a live connection to the server."
	case KindUploadFailed:
		return "Upload failed. Restart the upload to try again."
	case KindChannelDisconnected:
		return "Lost connection to the live transcript."
	case KindInvalidRange:
		return "Select some transcript text first."
	case KindInvalidTransition:
		return "That action is not available in the current state."
	}
	return err.Error()
}

// Standard library helpers, re-exported.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
