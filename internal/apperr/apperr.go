// Package apperr defines the error taxonomy shared by the budget, payment and
// bulk packages. Every error is a *goerrors.Error carrying a text code that
// identifies the specific failure and maps to one of a small set of kinds.
package apperr

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Kind groups text codes into the failure classes callers branch on.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindValidation        Kind = "VALIDATION_FAILURE"
	KindConflict          Kind = "CONFLICT"
	KindDownstream        Kind = "DOWNSTREAM_FAILURE"
	KindInternal          Kind = "INTERNAL"
)

// Text codes.
const (
	AllocationNotFound         = "ALLOCATION_NOT_FOUND"
	CommitmentNotFound         = "COMMITMENT_NOT_FOUND"
	PaymentNotFound            = "PAYMENT_NOT_FOUND"
	BatchNotFound              = "BATCH_NOT_FOUND"
	AllocationInactive         = "ALLOCATION_INACTIVE"
	CommitmentNotActive        = "COMMITMENT_NOT_ACTIVE"
	PaymentNotPending          = "PAYMENT_NOT_PENDING"
	BatchNotValidated          = "BATCH_NOT_VALIDATED"
	InsufficientBudget         = "INSUFFICIENT_BUDGET"
	InsufficientAccountBalance = "INSUFFICIENT_ACCOUNT_BALANCE"
	InsufficientBalance        = "INSUFFICIENT_BALANCE"
	InvalidInput               = "INVALID_INPUT"
	NoValidRecords             = "NO_VALID_RECORDS"
	ConcurrentModification     = "CONCURRENT_MODIFICATION"
	ConcurrentApprovalConflict = "CONCURRENT_APPROVAL_CONFLICT"
	SelfApprovalForbidden      = "SELF_APPROVAL_FORBIDDEN"
	DuplicateApprover          = "DUPLICATE_APPROVER"
	ExecutionFailed            = "EXECUTION_FAILED"
	Internal                   = "INTERNAL_ERROR"
)

var kinds = map[string]Kind{
	AllocationNotFound:         KindNotFound,
	CommitmentNotFound:         KindNotFound,
	PaymentNotFound:            KindNotFound,
	BatchNotFound:              KindNotFound,
	AllocationInactive:         KindInvalidState,
	CommitmentNotActive:        KindInvalidState,
	PaymentNotPending:          KindInvalidState,
	BatchNotValidated:          KindInvalidState,
	InsufficientBudget:         KindInsufficientFunds,
	InsufficientAccountBalance: KindInsufficientFunds,
	InsufficientBalance:        KindInsufficientFunds,
	InvalidInput:               KindValidation,
	NoValidRecords:             KindValidation,
	ConcurrentModification:     KindConflict,
	ConcurrentApprovalConflict: KindConflict,
	SelfApprovalForbidden:      KindConflict,
	DuplicateApprover:          KindConflict,
	ExecutionFailed:            KindDownstream,
	Internal:                   KindInternal,
}

func category(kind Kind) goerrors.Category {
	switch kind {
	case KindNotFound:
		return goerrors.CategoryNotFound
	case KindInvalidState:
		return goerrors.CategoryOperation
	case KindInsufficientFunds:
		return goerrors.CategoryBadInput
	case KindValidation:
		return goerrors.CategoryValidation
	case KindConflict:
		return goerrors.CategoryConflict
	case KindDownstream:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

func status(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindInsufficientFunds, KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New builds an error for a text code.
func New(code, message string) *goerrors.Error {
	kind := kindOfCode(code)
	return goerrors.New(message, category(kind)).
		WithCode(status(kind)).
		WithTextCode(code)
}

// WithDetails attaches structured context, for example available and
// requested amounts.
func WithDetails(code, message string, details map[string]any) *goerrors.Error {
	err := New(code, message)
	if len(details) > 0 {
		err.WithMetadata(details)
	}
	return err
}

// Wrap classifies a lower level error under the given text code and message.
func Wrap(source error, code, message string) *goerrors.Error {
	if source == nil {
		return New(code, message)
	}
	kind := kindOfCode(code)
	return goerrors.Wrap(source, category(kind), message).
		WithCode(status(kind)).
		WithTextCode(code)
}

// Internalf hides store or driver failures behind a generic message.
func Internalf(source error, operation string) *goerrors.Error {
	return Wrap(source, Internal, operation+" failed")
}

// Code returns the text code of err, or "" when err is not classified.
func Code(err error) string {
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// Is reports whether err carries the text code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return kindOfCode(Code(err))
}

// HTTPStatus returns the status code associated with err.
func HTTPStatus(err error) int {
	return status(KindOf(err))
}

// Message returns the caller-facing message of err. Unclassified errors
// never leak their text.
func Message(err error) string {
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.TextCode != "" {
		return rich.Message
	}
	return "An unexpected error occurred"
}

func kindOfCode(code string) Kind {
	if kind, ok := kinds[code]; ok {
		return kind
	}
	return KindInternal
}
