package settlement

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable settlement failure reason.
type Code string

const (
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeCallerNotReceiver     Code = "CALLER_NOT_RECEIVER"
	CodeCallerNotSender       Code = "CALLER_NOT_SENDER"
	CodeSameParties           Code = "SAME_PARTIES"
	CodeOrderExpired          Code = "ORDER_EXPIRED"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeAlreadyPerformed      Code = "TRANSFER_ALREADY_PERFORMED"
	CodeCancelled             Code = "TRANSFER_CANCELLED"
	CodeInsufficientFunds     Code = "INSUFFICIENT_BALANCE_OR_ALLOWANCE"
	CodeNFTokenNotAllowed     Code = "NFTOKEN_NOT_ALLOWED"
	CodeFeeOverflow           Code = "FEE_OVERFLOW"
	CodeAssetTransferFailed   Code = "ASSET_TRANSFER_FAILED"
	CodeFeeTransferFailed     Code = "FEE_TRANSFER_FAILED"
	CodeCollaboratorReadError Code = "COLLABORATOR_READ_FAILED"
	CodeStateStoreFailure     Code = "STATE_STORE_FAILURE"
)

// Kind groups codes by the class of failure.
type Kind string

const (
	KindStructural    Kind = "STRUCTURAL"
	KindAuthorization Kind = "AUTHORIZATION"
	KindTemporal      Kind = "TEMPORAL"
	KindReplay        Kind = "REPLAY"
	KindAffordability Kind = "AFFORDABILITY"
	KindDelegation    Kind = "DELEGATION"
	KindCollaborator  Kind = "COLLABORATOR"
	KindInternal      Kind = "INTERNAL"
)

func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidInput, CodeSameParties, CodeFeeOverflow:
		return KindStructural
	case CodeCallerNotReceiver, CodeCallerNotSender, CodeInvalidSignature:
		return KindAuthorization
	case CodeOrderExpired:
		return KindTemporal
	case CodeAlreadyPerformed, CodeCancelled:
		return KindReplay
	case CodeInsufficientFunds:
		return KindAffordability
	case CodeNFTokenNotAllowed:
		return KindDelegation
	case CodeAssetTransferFailed, CodeFeeTransferFailed, CodeCollaboratorReadError:
		return KindCollaborator
	default:
		return KindInternal
	}
}

// HTTPStatus maps a code to the status the settlement service answers with.
func (c Code) HTTPStatus() int {
	switch c.Kind() {
	case KindStructural:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindTemporal:
		return http.StatusGone
	case KindReplay:
		return http.StatusConflict
	case KindAffordability, KindDelegation:
		return http.StatusUnprocessableEntity
	case KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, ErrAlreadyPerformed)
// works for any wrapped settlement failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Kind() Kind { return e.Code.Kind() }

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrCallerNotReceiver   = &Error{Code: CodeCallerNotReceiver}
	ErrCallerNotSender     = &Error{Code: CodeCallerNotSender}
	ErrSameParties         = &Error{Code: CodeSameParties}
	ErrOrderExpired        = &Error{Code: CodeOrderExpired}
	ErrInvalidSignature    = &Error{Code: CodeInvalidSignature}
	ErrAlreadyPerformed    = &Error{Code: CodeAlreadyPerformed}
	ErrCancelled           = &Error{Code: CodeCancelled}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds}
	ErrNFTokenNotAllowed   = &Error{Code: CodeNFTokenNotAllowed}
	ErrFeeOverflow         = &Error{Code: CodeFeeOverflow}
	ErrAssetTransferFailed = &Error{Code: CodeAssetTransferFailed}
	ErrFeeTransferFailed   = &Error{Code: CodeFeeTransferFailed}
	ErrCollaboratorRead    = &Error{Code: CodeCollaboratorReadError}
	ErrStateStore          = &Error{Code: CodeStateStoreFailure}
)

// CodeOf returns the settlement code carried by err, or "" when err is not a
// settlement failure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
