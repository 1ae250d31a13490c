// Package errors provides structured error handling for the funding ledger.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Contract errors
	CodeContractNotFound      Code = "CONTRACT_NOT_FOUND"
	CodeContractPaused        Code = "CONTRACT_PAUSED"
	CodeContractInvalidParams Code = "CONTRACT_INVALID_PARAMS"

	// Position errors
	CodePositionNotFound  Code = "POSITION_DOES_NOT_EXIST"
	CodePositionAmbiguous Code = "AMBIGUOUS_POSITION"
	CodeAlreadyRefunded   Code = "ALREADY_REFUNDED"

	// Amount errors
	CodeInvalidAmount            Code = "INVALID_AMOUNT"
	CodeSplitExceedsPosition     Code = "SPLIT_AMOUNT_EXCEEDS_POSITION"
	CodeWithdrawExceedsAvailable Code = "WITHDRAW_EXCEEDS_AVAILABLE"

	// Goal state errors
	CodeGoalNotReached       Code = "GOAL_NOT_REACHED"
	CodeGoalFailed           Code = "GOAL_FAILED"
	CodeGoalNotFailed        Code = "GOAL_NOT_FAILED"
	CodeGoalMustIncrease     Code = "GOAL_MUST_INCREASE"
	CodeDeadlineMustBeFuture Code = "DEADLINE_MUST_BE_FUTURE"

	// Authorization errors
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeGrantInvalid  Code = "OPERATOR_GRANT_INVALID"
	CodeGrantExpired  Code = "OPERATOR_GRANT_EXPIRED"
	CodeGrantMismatch Code = "OPERATOR_GRANT_MISMATCH"

	// Token errors
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeContractInvalidParams,
		CodeInvalidAmount,
		CodeGoalMustIncrease,
		CodeDeadlineMustBeFuture,
		CodePositionAmbiguous:
		return http.StatusBadRequest

	// Conflict - state does not allow the operation
	case CodeContractPaused,
		CodeAlreadyRefunded,
		CodeSplitExceedsPosition,
		CodeWithdrawExceedsAvailable,
		CodeGoalNotReached,
		CodeGoalFailed,
		CodeGoalNotFailed,
		CodeInsufficientBalance,
		CodeInsufficientAllowance:
		return http.StatusConflict

	// Not found - resource does not exist
	case CodeNotFound,
		CodeContractNotFound,
		CodePositionNotFound:
		return http.StatusNotFound

	// Forbidden - caller lacks authorization
	case CodeUnauthorized,
		CodeGrantInvalid,
		CodeGrantExpired,
		CodeGrantMismatch:
		return http.StatusForbidden

	default:
		return http.StatusInternalServerError
	}
}
