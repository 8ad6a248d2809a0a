package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
	"github.com/learnify/learnify/internal/pricing"
	"github.com/learnify/learnify/internal/quiz"
	studydomain "github.com/learnify/learnify/internal/study/domain"
	subjectdomain "github.com/learnify/learnify/internal/subject/domain"
	tutordomain "github.com/learnify/learnify/internal/tutor/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this action",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, subjectdomain.ErrSubjectExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "subject already exists",
		}
	// A held debit lock is contention, not a wallet state: the owner can
	// retry, so it maps with the limiter rejections rather than to 402.
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, creditdomain.ErrOwnerBusy):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	// Refund failures outrank the action failure they wrap: the ledger
	// needs reconciliation, so the client sees a server error, not a
	// retryable upstream one.
	case errors.Is(err, creditdomain.ErrRefundFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "refund_failed",
			Message: "internal server error",
		}
	case errors.Is(err, creditdomain.ErrActionFailed),
		errors.Is(err, tutordomain.ErrProviderUnavailable),
		errors.Is(err, tutordomain.ErrEmptyCompletion),
		errors.Is(err, quiz.ErrUnparseable):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "upstream provider error",
		}
	case errors.Is(err, creditdomain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, creditdomain.ErrInvalidOwner),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidExpiry),
		errors.Is(err, creditdomain.ErrInvalidFeature),
		errors.Is(err, tutordomain.ErrInvalidRequest),
		errors.Is(err, studydomain.ErrInvalidSession),
		errors.Is(err, studydomain.ErrInvalidQuiz),
		errors.Is(err, studydomain.ErrSessionTooShort),
		errors.Is(err, subjectdomain.ErrInvalidSubject),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidOwner):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, creditdomain.ErrGrantNotFound),
		errors.Is(err, pricing.ErrPackageNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, creditdomain.ErrInvalidOwner):
		return "invalid_owner"
	case errors.Is(err, creditdomain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, creditdomain.ErrInvalidExpiry):
		return "invalid_expiry"
	case errors.Is(err, creditdomain.ErrInvalidFeature):
		return "invalid_feature"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog feeds the request logger a stable (type, code) pair so
// log-based alerting does not parse error strings.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
