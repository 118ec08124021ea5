// Package apperr defines the error taxonomy shared by the indexing pipeline.
//
// Every failure that reaches the per-file boundary of the orchestrator is
// classified into one of four kinds. The kind decides whether the failure is
// persisted on the file record and is reported alongside the message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindUnknown    Kind = ""
	KindExtraction Kind = "ExtractionError"
	KindEmbedding  Kind = "EmbeddingProviderError"
	KindStorage    Kind = "StorageError"
	KindValidation Kind = "ValidationError"
)

// Error carries a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so errors.Is(err, apperr.Storage)
// style checks work against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	Extraction = &Error{Kind: KindExtraction}
	Embedding  = &Error{Kind: KindEmbedding}
	Storage    = &Error{Kind: KindStorage}
	Validation = &Error{Kind: KindValidation}
)

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	// keep the innermost classification
	var existing *Error
	if errors.As(err, &existing) && existing.Kind != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewExtraction wraps err as an ExtractionError.
func NewExtraction(op string, err error) error { return wrap(KindExtraction, op, err) }

// NewEmbedding wraps err as an EmbeddingProviderError.
func NewEmbedding(op string, err error) error { return wrap(KindEmbedding, op, err) }

// NewStorage wraps err as a StorageError.
func NewStorage(op string, err error) error { return wrap(KindStorage, op, err) }

// NewValidation wraps err as a ValidationError.
func NewValidation(op string, err error) error { return wrap(KindValidation, op, err) }

// Validationf builds a ValidationError from a format string.
func Validationf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
