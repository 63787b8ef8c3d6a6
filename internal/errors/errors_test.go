package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewError(AnchorMissing, "no anchor configured", cause, nil)

	if err.Code != AnchorMissing {
		t.Errorf("Code = %v, want %v", err.Code, AnchorMissing)
	}
	if err.Message != "no anchor configured" {
		t.Errorf("Message = %q, want %q", err.Message, "no anchor configured")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      FetchFailed,
			message:   "profile unavailable",
			cause:     errors.New("connection refused"),
			wantParts: []string{"FETCH_FAILED", "profile unavailable", "connection refused"},
		},
		{
			name:      "without cause",
			code:      ParticipantNotFound,
			message:   "participant 'foo' not found",
			cause:     nil,
			wantParts: []string{"PARTICIPANT_NOT_FOUND", "participant 'foo' not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.code, tt.message, tt.cause, nil)
			got := err.Error()

			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(InternalError, "something went wrong", cause, nil)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	errNoCause := NewError(StorageFailure, "write failed", nil, nil)
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() on error without cause should return nil")
	}
}

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("sweep: %w", NewError(BudgetExceeded, "too many expansions", nil, nil))

	if !errors.Is(err, &Error{Code: BudgetExceeded}) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(err, &Error{Code: AnchorMissing}) {
		t.Error("errors.Is should not match a different code")
	}
	if !HasCode(err, BudgetExceeded) {
		t.Error("HasCode should find the wrapped code")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf should be empty for plain errors")
	}
}

func TestError_WithDetails(t *testing.T) {
	err := NewError(BudgetExceeded, "search too large", nil, nil)
	details := map[string]int{"expansions": 10000, "limit": 4000}

	result := err.WithDetails(details)

	if result != err {
		t.Error("WithDetails should return the same error for chaining")
	}
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	tests := []struct {
		code    ErrorCode
		wantNil bool
		wantLen int
	}{
		{AnchorMissing, false, 1},
		{BudgetExceeded, false, 1},
		{ParticipantNotFound, false, 1},
		{ConfigInvalid, false, 1},
		{StorageFailure, true, 0},
		{InternalError, true, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			fixes := GetSuggestedFixes(tt.code)

			if tt.wantNil && fixes != nil {
				t.Errorf("GetSuggestedFixes(%v) = %v, want nil", tt.code, fixes)
			}
			if !tt.wantNil && len(fixes) != tt.wantLen {
				t.Errorf("GetSuggestedFixes(%v) len = %d, want %d", tt.code, len(fixes), tt.wantLen)
			}
		})
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		AnchorMissing,
		BudgetExceeded,
		ParticipantNotFound,
		FetchFailed,
		StorageFailure,
		ConfigInvalid,
		DaemonNotRunning,
		InternalError,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("Duplicate error code: %v", code)
		}
		seen[code] = true
		if string(code) == "" {
			t.Error("Error code should not be empty")
		}
	}
}

func TestErrorActionsMap(t *testing.T) {
	for code, fixes := range ErrorActions {
		if len(fixes) == 0 {
			t.Errorf("ErrorActions[%v] has no fix actions", code)
		}
		for i, fix := range fixes {
			if fix.Type == "" {
				t.Errorf("ErrorActions[%v][%d].Type is empty", code, i)
			}
		}
	}
}
