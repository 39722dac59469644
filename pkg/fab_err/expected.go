// pkg/fab_err/expected.go

package fab_err

import (
	"errors"

	cerr "github.com/cockroachdb/errors"
)

var (
	// ErrCancelled is the cause of every declined confirmation.
	ErrCancelled = errors.New("operation cancelled by user")

	// ErrUnknownFlavor is the cause for targets whose package manager cannot be determined.
	ErrUnknownFlavor = errors.New("unsupported operating system flavour")
)

// UserError marks a failure the operator can fix: a missing override key,
// an unknown AMI name, an unreachable inventory file. It is reported
// without a stack trace.
type UserError struct {
	cause error
}

func (e *UserError) Error() string { return e.cause.Error() }

func (e *UserError) Unwrap() error { return e.cause }

// NewExpectedError marks err as expected. A nil err stays nil.
func NewExpectedError(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{cause: err}
}

// IsExpectedUserError reports whether any error in the chain is a UserError.
func IsExpectedUserError(err error) bool {
	var e *UserError
	return errors.As(err, &e)
}

// OverwriteRequired is the precondition failure for a target path that
// already exists while overrideKey is unset.
func OverwriteRequired(path, overrideKey, locationKey string) error {
	err := cerr.Newf("%s exists already. Specify %s to overwrite, or a different %s location",
		path, overrideKey, locationKey)
	return NewExpectedError(cerr.WithHintf(err, "export %s=1 or pass the matching --overwrite flag", overrideKey))
}
