package core

import "github.com/pkg/errors"

var (
	// ErrConfig is returned for configurations rejected before the loop starts
	ErrConfig = errors.New("invalid checkpoint configuration")

	// ErrDataUnavailable signals that a block required for validation is not
	// present locally. It means "could not check", never "check failed".
	ErrDataUnavailable = errors.New("checkpoint data unavailable")

	// ErrOracleUnavailable signals that the reference call could not be completed
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrRewindConflict is returned when the controller refuses a rewind target
	ErrRewindConflict = errors.New("rewind target conflicts with protected history")
)

// oracleError keeps the failed call's cause in the chain while matching
// ErrOracleUnavailable.
type oracleError struct {
	cause error
}

func (e *oracleError) Error() string {
	return ErrOracleUnavailable.Error() + ": " + e.cause.Error()
}

func (e *oracleError) Is(target error) bool { return target == ErrOracleUnavailable }

func (e *oracleError) Unwrap() error { return e.cause }

func (e *oracleError) Cause() error { return e.cause }

// OracleUnavailable marks err as an oracle failure. Nil stays nil.
func OracleUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return &oracleError{cause: err}
}
