// pkg/fab_err/classification.go
//
// Error classification with exit codes, layered over UserError.

package fab_err

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for appropriate handling
type ErrorCategory int

const (
	// CategorySystem - local OS/filesystem issues (exit 1)
	CategorySystem ErrorCategory = iota
	// CategoryValidation - bad flags or configuration (exit 2)
	CategoryValidation
	// CategoryRemote - a command on the target host failed (exit 4)
	CategoryRemote
	// CategoryProvider - cloud or container API failure (exit 5)
	CategoryProvider
	// CategoryUser - user cancelled/interrupted (exit 130)
	CategoryUser
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryRemote:
		return "remote"
	case CategoryProvider:
		return "provider"
	case CategoryUser:
		return "user"
	default:
		return "system"
	}
}

// ClassifiedError wraps an error with category and remediation info
type ClassifiedError struct {
	Category    ErrorCategory
	Message     string
	Cause       error
	Remediation []string
}

func (e *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}
	return sb.String()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error category
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryUser:
		return 130
	case CategoryValidation:
		return 2
	case CategoryRemote:
		return 4
	case CategoryProvider:
		return 5
	default:
		return 1
	}
}

// GetExitCode extracts an exit code from any error.
// Expected user errors exit 1 without a stack; unknown errors exit 1.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.ExitCode()
	}
	return 1
}

func NewValidationError(message string, remediation ...string) error {
	return &ClassifiedError{Category: CategoryValidation, Message: message, Remediation: remediation}
}

func NewRemoteError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{Category: CategoryRemote, Message: message, Cause: cause, Remediation: remediation}
}

func NewProviderError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{Category: CategoryProvider, Message: message, Cause: cause, Remediation: remediation}
}

// NewCancelledError is returned when the operator aborts at a prompt.
func NewCancelledError(operation string) error {
	return &ClassifiedError{Category: CategoryUser, Message: operation + " cancelled", Cause: ErrCancelled}
}

// Category reports the category of err, defaulting to CategorySystem.
func Category(err error) ErrorCategory {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	if IsExpectedUserError(err) {
		return CategoryValidation
	}
	return CategorySystem
}
