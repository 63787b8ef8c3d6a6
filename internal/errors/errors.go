package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// AnchorMissing indicates no anchor participant is configured
	AnchorMissing ErrorCode = "ANCHOR_MISSING"
	// BudgetExceeded indicates the chain search hit its expansion or time limit
	BudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// ParticipantNotFound indicates an unknown participant id or username
	ParticipantNotFound ErrorCode = "PARTICIPANT_NOT_FOUND"
	// FetchFailed indicates a profile could not be fetched
	FetchFailed ErrorCode = "FETCH_FAILED"
	// StorageFailure indicates the database could not be read or written
	StorageFailure ErrorCode = "STORAGE_FAILURE"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// DaemonNotRunning indicates the daemon could not be reached
	DaemonNotRunning ErrorCode = "DAEMON_NOT_RUNNING"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration key
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Key         string        `json:"key,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Error carries a stable code, a message and optional details and cause.
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        any         `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// NewError creates a new Error with the suggested fixes registered for code.
func NewError(code ErrorCode, message string, cause error, details any) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		Details:        details,
		SuggestedFixes: GetSuggestedFixes(code),
		cause:          cause,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	AnchorMissing: {
		{
			Type:        EditConfig,
			Key:         "anchor",
			Description: "Set the id of the participant every chain ends at",
		},
	},
	BudgetExceeded: {
		{
			Type:        EditConfig,
			Key:         "search.maxExpansions",
			Description: "Raise the search budget or disable participants causing large branching",
		},
	},
	ParticipantNotFound: {
		{
			Type:        RunCommand,
			Command:     "chainwatch participants list",
			Safe:        true,
			Description: "List known participants",
		},
	},
	FetchFailed: {
		{
			Type:        EditConfig,
			Key:         "scan.baseURL",
			Description: "Check that profile pages are reachable",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "chainwatch config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
	},
	DaemonNotRunning: {
		{
			Type:        RunCommand,
			Command:     "chainwatch daemon start",
			Description: "Start the daemon",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
