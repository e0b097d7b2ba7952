package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	quotadomain "github.com/tidewaylabs/tideway/internal/quota/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

type validationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *validationError) Error() string { return e.Message }

func newValidationError(field, code, message string) error {
	return &validationError{Field: field, Code: code, Message: message}
}

// statusFor maps domain errors onto HTTP status codes. Unknown errors
// are a 500; the body never leaks internals.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"

	case errors.Is(err, usagedomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidOrganization),
		errors.Is(err, subscriptiondomain.ErrInvalidOrganization),
		errors.Is(err, paymentdomain.ErrInvalidOrganization):
		return http.StatusUnauthorized, "unauthorized"

	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrInstrumentNotFound),
		errors.Is(err, catalogdomain.ErrPlanNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, subscriptiondomain.ErrAlreadyExists),
		errors.Is(err, invoicedomain.ErrOpenInvoiceExists),
		errors.Is(err, invoicedomain.ErrAlreadyFinalized),
		errors.Is(err, paymentdomain.ErrAttemptInFlight):
		return http.StatusConflict, err.Error()

	case errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrPeriodNotElapsed),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrInvoicePaid),
		errors.Is(err, paymentdomain.ErrInvoiceSettled),
		errors.Is(err, paymentdomain.ErrInvoiceNotOpen),
		errors.Is(err, paymentdomain.ErrNoInstrumentOnFile),
		errors.Is(err, usagedomain.ErrPeriodClosed):
		return http.StatusUnprocessableEntity, err.Error()

	case errors.Is(err, quotadomain.ErrOrgSubscriptionQuotaExceeded),
		errors.Is(err, quotadomain.ErrOrgUsageQuotaExceeded):
		return http.StatusTooManyRequests, err.Error()

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, err.Error()

	case errors.Is(err, paymentdomain.ErrUnknownProvider):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, subscriptiondomain.ErrInvalidSubscription),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan),
		errors.Is(err, subscriptiondomain.ErrInvalidCustomer),
		errors.Is(err, subscriptiondomain.ErrInvalidPauseDuration),
		errors.Is(err, invoicedomain.ErrInvalidInvoice),
		errors.Is(err, invoicedomain.ErrInvalidPeriod),
		errors.Is(err, invoicedomain.ErrNoActivePlan),
		errors.Is(err, paymentdomain.ErrInvalidInvoice),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, usagedomain.ErrInvalidSubscription),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrUnknownFeature),
		errors.Is(err, usagedomain.ErrInvalidIdempotencyKey),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	}

	var vErr *validationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, vErr.Code
	}

	return http.StatusInternalServerError, "internal_error"
}

func AbortWithError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"code": code}
	var vErr *validationError
	if errors.As(err, &vErr) {
		body["field"] = vErr.Field
		body["message"] = vErr.Message
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
