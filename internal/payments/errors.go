package payments

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/wallet"
)

var (
	// ErrInvalidInput indicates a malformed payment request.
	ErrInvalidInput = errors.New("invalid payment request")
	// ErrSimulationFailed indicates the provider's dry run reported the
	// payment would not succeed.
	ErrSimulationFailed = errors.New("payment simulation failed")
	// ErrPaymentExecutionFailed indicates the provider refused or failed the
	// transfer.
	ErrPaymentExecutionFailed = errors.New("payment execution failed")
	// ErrPaymentPending indicates the outcome is unknown and the attempt waits
	// for reconciliation.
	ErrPaymentPending = errors.New("payment pending reconciliation")
	// ErrIntentNotFound is returned for unknown or expired payment intents.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrUnknownEvent is returned for settlement events of an unsupported type.
	ErrUnknownEvent = errors.New("unknown settlement event")
)

// Failure codes recorded on failed and blocked entries, next to the guard
// codes.
const (
	codeSimulationFailed  = "simulation_failed"
	codeInsufficientFunds = "insufficient_funds"
	codeExecutionFailed   = "execution_failed"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an orchestrator error onto an HTTP status code.
func HTTPStatus(err error) int {
	var violation *guard.Violation
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ledger.ErrInvalidPage), errors.Is(err, wallet.ErrInvalidOwner):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, guard.ErrGuardUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &violation):
		return http.StatusForbidden
	case errors.Is(err, ErrSimulationFailed), errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentExecutionFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrPaymentPending):
		return http.StatusAccepted
	case errors.Is(err, ledger.ErrDuplicateRequest), errors.Is(err, wallet.ErrDuplicateOwner):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrNotFound), errors.Is(err, ledger.ErrNotFound), errors.Is(err, ErrIntentNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
