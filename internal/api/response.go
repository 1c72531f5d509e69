package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/blob"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/moderation"
	"github.com/jensholdgaard/bluepenguin/internal/reputation"
	"github.com/jensholdgaard/bluepenguin/internal/settlement"
	"github.com/jensholdgaard/bluepenguin/internal/shipping"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// jsonResponse writes the standard success envelope.
func jsonResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// jsonError writes the standard error envelope.
func jsonError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status": status,
		"error":  message,
	})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidSession),
		errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, authz.ErrForbidden),
		errors.Is(err, authz.ErrNotEligible),
		errors.Is(err, moderation.ErrNotVisitor):
		return http.StatusForbidden

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ledger.ErrInvalidRegistration),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientPoints),
		errors.Is(err, auction.ErrInvalidItem),
		errors.Is(err, auction.ErrBidOutOfRange),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrInvalidParcel),
		errors.Is(err, settlement.ErrAddressRequired),
		errors.Is(err, reputation.ErrInvalidScore),
		errors.Is(err, reputation.ErrSelfRating),
		errors.Is(err, reputation.ErrInvalidReport),
		errors.Is(err, moderation.ErrCaptchaRequired),
		errors.Is(err, blob.ErrInvalidKey):
		return http.StatusUnprocessableEntity

	case errors.Is(err, store.ErrConflict),
		errors.Is(err, identity.ErrIdentityExists),
		errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, settlement.ErrAuctionOpen),
		errors.Is(err, settlement.ErrItemUnavailable),
		errors.Is(err, settlement.ErrWinnerAlreadyChosen),
		errors.Is(err, settlement.ErrNotTopBid),
		errors.Is(err, settlement.ErrBidNotPending),
		errors.Is(err, settlement.ErrTransactionState),
		errors.Is(err, reputation.ErrNotSuspended),
		errors.Is(err, moderation.ErrDuplicateRequest),
		errors.Is(err, moderation.ErrAlreadyReviewed):
		return http.StatusConflict

	case errors.Is(err, settlement.ErrShippingUnavailable),
		errors.Is(err, shipping.ErrUnavailable),
		errors.Is(err, identity.ErrUnavailable):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail withheld from the client.
func (h *handler) fail(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), op+" failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
		if status == http.StatusInternalServerError {
			jsonError(c, status, "internal server error")
			return
		}
	}
	jsonError(c, status, err.Error())
}

// badRequest reports a payload that could not be bound.
func (h *handler) badRequest(c *gin.Context, op string, err error) {
	h.logger.WarnContext(c.Request.Context(), op+": binding error", slog.Any("error", err))
	jsonError(c, http.StatusBadRequest, "invalid request payload: "+err.Error())
}
