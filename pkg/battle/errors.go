package battle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error classes. Every typed error below matches exactly one of these with
// errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrState               = errors.New("state error")
	ErrResource            = errors.New("resource error")
	ErrDataIntegrity       = errors.New("data integrity error")
	ErrOracleTimeout       = errors.New("oracle timeout")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError is a malformed request: nothing was read or written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError means the request is well formed but the battle does not allow it.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

func (e *StateError) Is(target error) bool { return target == ErrState }

// ResourceError rejects one specific action. Reasons lists every failed check.
type ResourceError struct {
	Action  ActionType
	Reasons []string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Action, strings.Join(e.Reasons, "; "))
}

func (e *ResourceError) Is(target error) bool { return target == ErrResource }

// DataIntegrityError is fatal: stored data is missing or contradicts itself.
type DataIntegrityError struct {
	BattleID string
	Sequence int
	Message  string
}

func (e *DataIntegrityError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("battle %s seq %d: %s", e.BattleID, e.Sequence, e.Message)
	}
	if e.BattleID != "" {
		return fmt.Sprintf("battle %s: %s", e.BattleID, e.Message)
	}
	return e.Message
}

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// OracleTimeoutError aborts the turn. No log entry is written.
type OracleTimeoutError struct {
	Op  string
	Err error
}

func (e *OracleTimeoutError) Error() string {
	return fmt.Sprintf("%s: oracle timed out: %v", e.Op, e.Err)
}

func (e *OracleTimeoutError) Unwrap() error { return e.Err }

func (e *OracleTimeoutError) Is(target error) bool { return target == ErrOracleTimeout }

// LockConflictError names the characters already committed to another battle.
type LockConflictError struct {
	BattleID string
	Held     map[string]string // characterID -> battleID holding it
}

func (e *LockConflictError) Error() string {
	ids := make([]string, 0, len(e.Held))
	for id := range e.Held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s in battle %s", id, e.Held[id]))
	}
	return "already in another battle: " + strings.Join(parts, ", ")
}

func (e *LockConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// SequenceConflictError means another writer already appended this sequence
// number; the turn must be retried against the new log.
type SequenceConflictError struct {
	BattleID string
	Sequence int
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("battle %s: sequence %d already written", e.BattleID, e.Sequence)
}

func (e *SequenceConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// IsFatal reports whether err must stop processing rather than be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

func integrity(format string, args ...any) error {
	return &DataIntegrityError{Message: fmt.Sprintf(format, args...)}
}
