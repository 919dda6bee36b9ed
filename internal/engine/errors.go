package engine

import (
	"errors"
	"fmt"

	"signalwars/internal/engine/auth"
	"signalwars/internal/repo"
)

// Error is a typed arena failure. Errors compare equal by Code, so a
// detailed error still matches its sentinel with errors.Is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyInitialized      = &Error{Code: "already_initialized", Message: "arena already initialized"}
	ErrNotInitialized          = &Error{Code: "not_initialized", Message: "arena not initialized"}
	ErrAlreadyExists           = &Error{Code: "already_exists", Message: "account already exists"}
	ErrNotFound                = &Error{Code: "not_found", Message: "not found"}
	ErrNameTooLong             = &Error{Code: "name_too_long", Message: "name too long"}
	ErrEndpointTooLong         = &Error{Code: "endpoint_too_long", Message: "endpoint too long"}
	ErrInvalidName             = &Error{Code: "invalid_name", Message: "name is required"}
	ErrInvalidPrizeSplit       = &Error{Code: "invalid_prize_split", Message: "prize pool bps must be at most 10000"}
	ErrInvalidAmount           = &Error{Code: "invalid_amount", Message: "invalid amount"}
	ErrInvalidDuration         = &Error{Code: "invalid_duration", Message: "invalid season duration"}
	ErrInvalidAchievement      = &Error{Code: "invalid_achievement", Message: "unknown achievement type"}
	ErrHashMismatch            = &Error{Code: "hash_mismatch", Message: "plaintext does not match committed hash"}
	ErrPlaintextTooLong        = &Error{Code: "plaintext_too_long", Message: "plaintext too long"}
	ErrInvalidPlaintext        = &Error{Code: "invalid_plaintext", Message: "plaintext must be valid utf-8"}
	ErrInvalidPredictionStatus = &Error{Code: "invalid_prediction_status", Message: "invalid prediction status"}
	ErrPredictionInFlight      = &Error{Code: "prediction_in_flight", Message: "agent already has an unresolved prediction"}
	ErrNotEntered              = &Error{Code: "not_entered", Message: "agent has not entered the season"}
	ErrSeasonNotActive         = &Error{Code: "season_not_active", Message: "season not active"}
	ErrSeasonNotEnded          = &Error{Code: "season_not_ended", Message: "season has not ended"}
	ErrInvalidSeasonStatus     = &Error{Code: "invalid_season_status", Message: "invalid season status"}
	ErrUnauthorized            = &Error{Code: "unauthorized", Message: "unauthorized"}
	ErrInsufficientFunds       = &Error{Code: "insufficient_funds", Message: "insufficient funds"}
	ErrVersionConflict         = &Error{Code: "version_conflict", Message: "account changed concurrently"}
)

func errorf(base *Error, format string, args ...any) error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// storeErr translates account store failures into arena errors.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return errorf(ErrNotFound, "%s not found", what)
	case errors.Is(err, repo.ErrExists):
		return errorf(ErrAlreadyExists, "%s already exists", what)
	case errors.Is(err, repo.ErrVersionConflict):
		return errorf(ErrVersionConflict, "%s changed concurrently", what)
	case errors.Is(err, repo.ErrInsufficientBalance):
		return errorf(ErrInsufficientFunds, "insufficient funds in %s", what)
	case errors.Is(err, repo.ErrBalanceOverflow):
		return errorf(ErrInvalidAmount, "balance of %s would overflow", what)
	}
	return err
}

// forbidden wraps a capability failure so it matches both ErrUnauthorized
// and auth.ForbiddenError.
func forbidden(err error) error {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
