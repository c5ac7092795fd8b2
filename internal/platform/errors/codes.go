// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInvalidArgument           Code = "INVALID_ARGUMENT"
	CodeInvalidFeeStructure       Code = "INVALID_FEE_STRUCTURE"
	CodeFeeStructureExceedsPolicy Code = "FEE_STRUCTURE_EXCEEDS_POLICY"
	CodeCharityBelowFloor         Code = "CHARITY_BELOW_FLOOR"
	CodeInvalidPrizeSplit         Code = "INVALID_PRIZE_SPLIT"
	CodeRoomIDTooLong             Code = "ROOM_ID_TOO_LONG"
	CodeRoomIDInvalid             Code = "ROOM_ID_INVALID"
	CodeInvalidWinnerCount        Code = "INVALID_WINNER_COUNT"
	CodeDuplicateWinner           Code = "DUPLICATE_WINNER"
	CodeInvalidRoomConfig         Code = "INVALID_ROOM_CONFIG"
	CodeBundleTooLarge            Code = "BUNDLE_TOO_LARGE"

	// Precondition errors
	CodeRoomFull                 Code = "ROOM_FULL"
	CodeAlreadyJoined            Code = "ALREADY_JOINED"
	CodeWinnerNeverJoined        Code = "WINNER_NEVER_JOINED"
	CodeHostCannotWin            Code = "HOST_CANNOT_WIN"
	CodeDuplicateDeposit         Code = "DUPLICATE_DEPOSIT"
	CodeWinnersAlreadyDeclared   Code = "WINNERS_ALREADY_DECLARED"
	CodeInvalidPhase             Code = "INVALID_PHASE"
	CodeJoiningClosed            Code = "JOINING_CLOSED"
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeRoomNotExpired           Code = "ROOM_NOT_EXPIRED"
	CodeHoldingNotEmpty          Code = "HOLDING_NOT_EMPTY"
	CodeConfigAlreadyInitialized Code = "CONFIG_ALREADY_INITIALIZED"
	CodeConfigNotInitialized     Code = "CONFIG_NOT_INITIALIZED"
	CodeRoomAlreadyExists        Code = "ROOM_ALREADY_EXISTS"
	CodeFeesLocked               Code = "FEES_LOCKED"
	CodePlatformPaused           Code = "PLATFORM_PAUSED"

	// Resource errors
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeAccountNotFound   Code = "ACCOUNT_NOT_FOUND"
	CodeAccountMismatch   Code = "ACCOUNT_MISMATCH"
	CodeRoomNotFound      Code = "ROOM_NOT_FOUND"
	CodeEntryNotFound     Code = "ENTRY_NOT_FOUND"

	// Network / ambiguous outcome errors
	CodeNetworkTimeout    Code = "NETWORK_TIMEOUT"
	CodeAlreadyProcessed  Code = "ALREADY_PROCESSED"
	CodeSubmissionExpired Code = "SUBMISSION_EXPIRED"
	CodeUnresolvedOutcome Code = "UNRESOLVED_OUTCOME"
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"

	// Integrity errors
	CodeFeeSplitDoesNotSumToTotal Code = "FEE_SPLIT_DOES_NOT_SUM_TO_TOTAL"
	CodeUnexpectedPhase           Code = "UNEXPECTED_PHASE"
	CodeDistributionMismatch      Code = "DISTRIBUTION_MISMATCH"
	CodeInvalidSignature          Code = "INVALID_SIGNATURE"
)

// Category groups codes by how callers are expected to react.
type Category string

const (
	CategoryUnknown      Category = "unknown"
	CategoryValidation   Category = "validation"
	CategoryPrecondition Category = "precondition"
	CategoryResource     Category = "resource"
	CategoryNetwork      Category = "network"
	CategoryIntegrity    Category = "integrity"
)

// Category returns the taxonomy bucket of a code.
func (c Code) Category() Category {
	switch c {
	case CodeInvalidArgument,
		CodeInvalidFeeStructure,
		CodeFeeStructureExceedsPolicy,
		CodeCharityBelowFloor,
		CodeInvalidPrizeSplit,
		CodeRoomIDTooLong,
		CodeRoomIDInvalid,
		CodeInvalidWinnerCount,
		CodeDuplicateWinner,
		CodeInvalidRoomConfig,
		CodeBundleTooLarge:
		return CategoryValidation

	case CodeRoomFull,
		CodeAlreadyJoined,
		CodeWinnerNeverJoined,
		CodeHostCannotWin,
		CodeDuplicateDeposit,
		CodeWinnersAlreadyDeclared,
		CodeInvalidPhase,
		CodeJoiningClosed,
		CodeUnauthorized,
		CodeRoomNotExpired,
		CodeHoldingNotEmpty,
		CodeConfigAlreadyInitialized,
		CodeConfigNotInitialized,
		CodeRoomAlreadyExists,
		CodeFeesLocked,
		CodePlatformPaused:
		return CategoryPrecondition

	case CodeInsufficientFunds,
		CodeAccountNotFound,
		CodeAccountMismatch,
		CodeRoomNotFound,
		CodeEntryNotFound:
		return CategoryResource

	case CodeNetworkTimeout,
		CodeAlreadyProcessed,
		CodeSubmissionExpired,
		CodeUnresolvedOutcome,
		CodeLedgerUnavailable:
		return CategoryNetwork

	case CodeFeeSplitDoesNotSumToTotal,
		CodeUnexpectedPhase,
		CodeDistributionMismatch,
		CodeInvalidSignature:
		return CategoryIntegrity

	default:
		return CategoryUnknown
	}
}

// Ambiguous reports whether an error with this code leaves the outcome of a
// submitted bundle unknown until authoritative state is re-read.
func (c Code) Ambiguous() bool {
	switch c {
	case CodeNetworkTimeout, CodeAlreadyProcessed, CodeLedgerUnavailable:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// AlreadyExists - unique resource constraint
	case CodeAlreadyJoined,
		CodeRoomAlreadyExists,
		CodeConfigAlreadyInitialized,
		CodeAlreadyProcessed:
		return codes.AlreadyExists

	// PermissionDenied - signer is not allowed to act
	case CodeUnauthorized:
		return codes.PermissionDenied

	// NotFound - resource doesn't exist
	case CodeAccountNotFound,
		CodeRoomNotFound,
		CodeEntryNotFound,
		CodeConfigNotInitialized:
		return codes.NotFound

	// DeadlineExceeded / Unavailable - transport ambiguity
	case CodeNetworkTimeout:
		return codes.DeadlineExceeded
	case CodeLedgerUnavailable:
		return codes.Unavailable

	// Aborted - safe to rebuild and resubmit
	case CodeSubmissionExpired:
		return codes.Aborted

	// Unknown - requires manual inspection
	case CodeUnresolvedOutcome:
		return codes.Unknown
	}

	switch c.Category() {
	// InvalidArgument - validation failures, bad input
	case CategoryValidation:
		return codes.InvalidArgument
	// FailedPrecondition - state doesn't allow operation
	case CategoryPrecondition, CategoryResource:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
