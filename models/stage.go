package models

import (
	"errors"
	"fmt"
)

// Stage is the last pipeline step a record reached within one run.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageFetched     Stage = "fetched"
	StageDecoded     Stage = "decoded"
	StageTranscribed Stage = "transcribed"
	StageSummarized  Stage = "summarized"
	StageComposed    Stage = "composed"
	StagePublished   Stage = "published"
	StageRegistered  Stage = "registered"
	StageCommitted   Stage = "committed"
)

// ErrorKind classifies why a record's run was aborted.
type ErrorKind string

const (
	KindFetch         ErrorKind = "fetch"
	KindDecode        ErrorKind = "decode"
	KindTranscription ErrorKind = "transcription"
	KindSummarization ErrorKind = "summarization"
	KindPublish       ErrorKind = "publish"
	KindRegistration  ErrorKind = "registration"
	KindStore         ErrorKind = "store"
)

// StageError wraps a failure with its kind.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func NewStageError(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// StageErrorf is fmt.Errorf for a given kind; %w verbs are preserved.
func StageErrorf(kind ErrorKind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the kind of the outermost StageError in err's chain, or ""
// when err carries none.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
