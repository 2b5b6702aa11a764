package services

import (
	"errors"
	"net/http"
)

// Sentinel errors raised inside transactional bodies. Any of them
// aborts the in-progress transaction; the HTTP layer maps them with
// ServiceErrorStatus.
var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrPriceNotFound       = errors.New("price entry not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("wallet transaction not found")

	ErrRejectionReasonRequired = errors.New("rejection reason is required for Rejected status")
	ErrInvalidStatus           = errors.New("invalid document status")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrNoDistributor           = errors.New("document has no distributor assigned")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrAlreadyCompleted = errors.New("document already completed")
	ErrDuplicateOrder   = errors.New("duplicate merchant order id")
)

// ServiceErrorStatus maps a service error to an HTTP status code.
// Unknown errors are treated as internal failures.
func ServiceErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrPriceNotFound),
		errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRejectionReasonRequired),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrNoDistributor):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrDuplicateOrder):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SendServiceError writes a service error as a JSON error response
// using the sentinel-to-status mapping.
func SendServiceError(w http.ResponseWriter, err error) {
	status := ServiceErrorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	SendErrorResponse(w, msg, status, nil)
}
