package protocol

import "fmt"

// The coordinator reports six error kinds. Handlers map them onto HTTP
// status codes in one place; engines never touch HTTP.

// ValidationError covers malformed input: unknown category, stake below the
// minimum, verdict out of range, empty justification.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// StateError covers operations attempted in the wrong lifecycle phase:
// commit during REVEAL, reveal without commit, resolve before finalize,
// double publish.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

// NotFoundError covers lookups of unknown evidence items or inspectors.
type NotFoundError struct {
	Kind string // "evidence", "inspector", "session", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// CryptoError is a commit-reveal hash mismatch. Both hashes are surfaced to
// the caller and the attempt is logged as a tamper event.
type CryptoError struct {
	Msg          string
	ExpectedHash string
	ComputedHash string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s (expected %s, computed %s)", e.Msg, e.ExpectedHash, e.ComputedHash)
}

// LedgerError wraps a failed application call or confirmation timeout. For
// most operations it is annotated on the record rather than failing the
// request: off-chain state is the source of truth for coordination.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// DependencyError is a failure of an external collaborator (object store).
// Callers tolerate it and proceed with annotated degradation.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
