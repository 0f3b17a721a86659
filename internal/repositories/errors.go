package repositories

import "fmt"

// StoreErrorKind classifies failures raised by non-Firestore stores.
type StoreErrorKind int

const (
	StoreErrorUnknown StoreErrorKind = iota
	StoreErrorNotFound
	StoreErrorConflict
	StoreErrorUnavailable
)

// StoreError implements RepositoryError for the mongo and memory backends.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

// NewStoreError wraps err with an operation label and category.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

var _ RepositoryError = (*StoreError)(nil)
