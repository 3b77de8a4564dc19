package types

import (
	"errors"
	"fmt"
)

var (
	ErrStaleRevision  = errors.New("stale revision")
	ErrUnknownSegment = errors.New("unknown segment")
	ErrUnknownSlide   = errors.New("unknown slide")
	ErrUnknownSpeaker = errors.New("unknown speaker")
	ErrUnknownTicket  = errors.New("unknown or cancelled realignment ticket")
	ErrEmptyEdit      = errors.New("edited text is empty")
	ErrNoWords        = errors.New("edited text has no words, only punctuation")
	ErrUnknownSchema  = errors.New("unknown schema version")
)

// DataIntegrityError reports a malformed collaborator stream. It is never repaired.
type DataIntegrityError struct {
	Stream string
	Index  int
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s[%d]: %s", e.Stream, e.Index, e.Reason)
}

type CollaboratorFailure struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("collaborator %s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error { return e.Err }

type BoundaryConflictError struct {
	SegmentID  string
	NeighborID string
	Reason     string
}

func (e *BoundaryConflictError) Error() string {
	if e.NeighborID == "" {
		return fmt.Sprintf("boundary conflict on %s: %s", e.SegmentID, e.Reason)
	}
	return fmt.Sprintf("boundary conflict on %s (neighbor %s): %s", e.SegmentID, e.NeighborID, e.Reason)
}

type ValidationError struct {
	Check  string
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation %s failed at %s: %s", e.Check, e.Entity, e.Reason)
}

type ChecksumMismatch struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumMismatch) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("checksum mismatch: %s is missing (want %s)", e.Path, e.Want)
	}
	return fmt.Sprintf("checksum mismatch: %s has %s, manifest says %s", e.Path, e.Got, e.Want)
}
