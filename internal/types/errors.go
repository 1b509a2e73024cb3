package types

import (
	"errors"
	"fmt"
	"strings"
)

// Compile failure kinds. ServiceUnavailable is internal to the compiler: it
// routes to the pattern fallback and is only surfaced if the fallback also
// fails to resolve the text.
var (
	ErrAmbiguous          = errors.New("rule text is ambiguous")
	ErrUnknownField       = errors.New("rule targets a field outside the schema")
	ErrServiceUnavailable = errors.New("rule service unavailable")
)

// CompileError wraps a compile failure with the offending text.
type CompileError struct {
	Text string
	Err  error
}

func (e *CompileError) Error() string {
	text := e.Text
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	return fmt.Sprintf("compile %q: %v", text, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// ApplyError reports a partial or failed apply. Applied entries before the
// failure remain committed; Failed itemizes per-record causes.
type ApplyError struct {
	OperationID string
	BatchID     string
	Failed      []FailedChange
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s on batch %s: %d record(s) failed", e.OperationID, e.BatchID, len(e.Failed))
}

// Rollback failure kinds.
var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrAlreadyRolledBack = errors.New("operation already rolled back")
)

// RollbackBlockedError reports a rollback aborted because some records could
// not be restored. Nothing was mutated.
type RollbackBlockedError struct {
	OperationID string
	BlockedLots []string
}

func (e *RollbackBlockedError) Error() string {
	return fmt.Sprintf("rollback %s blocked by %d record(s): %s",
		e.OperationID, len(e.BlockedLots), strings.Join(e.BlockedLots, ", "))
}
