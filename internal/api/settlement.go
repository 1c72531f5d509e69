package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bluepenguin/internal/shipping"
)

// accept handles POST /bids/:id/accept
func (h *handler) accept(c *gin.Context) {
	tx, err := h.svc.Settlement.Accept(c.Request.Context(), actor(c).AccountID, c.Param("id"))
	if err != nil {
		h.fail(c, "accept", err)
		return
	}
	jsonResponse(c, http.StatusCreated, tx, "sale confirmed")
}

// reject handles POST /bids/:id/reject
func (h *handler) reject(c *gin.Context) {
	if err := h.svc.Settlement.Reject(c.Request.Context(), actor(c).AccountID, c.Param("id")); err != nil {
		h.fail(c, "reject", err)
		return
	}
	jsonResponse(c, http.StatusOK, nil, "sale rejected")
}

// ship handles POST /transactions/:id/ship
func (h *handler) ship(c *gin.Context) {
	var parcel shipping.Parcel
	if err := c.ShouldBindJSON(&parcel); err != nil {
		h.badRequest(c, "ship", err)
		return
	}
	tx, err := h.svc.Settlement.Ship(c.Request.Context(), actor(c).AccountID, c.Param("id"), parcel)
	if err != nil {
		h.fail(c, "ship", err)
		return
	}
	jsonResponse(c, http.StatusOK, tx, "item shipped")
}

// receive handles POST /transactions/:id/receive
func (h *handler) receive(c *gin.Context) {
	tx, err := h.svc.Settlement.ConfirmReceived(c.Request.Context(), actor(c).AccountID, c.Param("id"))
	if err != nil {
		h.fail(c, "receive", err)
		return
	}
	jsonResponse(c, http.StatusOK, tx, "item received")
}
