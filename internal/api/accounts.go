package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type redeemRequest struct {
	Points int64 `json:"points" binding:"required"`
}

type applyRequest struct {
	CaptchaCompleted bool `json:"captcha_completed"`
}

type quitRequest struct {
	Reason string `json:"reason"`
}

type meResponse struct {
	Account *store.Account `json:"account"`
	Profile *store.Profile `json:"profile"`
	Address *store.Address `json:"address,omitempty"`
}

// register handles POST /accounts
func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "register", err)
		return
	}
	a, err := h.svc.Accounts.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	jsonResponse(c, http.StatusCreated, a, "account created")
}

// signIn handles POST /sessions
func (h *handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "signIn", err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	token, err := h.svc.Identity.SignIn(c.Request.Context(), email, req.Password)
	if err != nil {
		h.fail(c, "signIn", err)
		return
	}
	jsonResponse(c, http.StatusCreated, gin.H{"token": token}, "signed in")
}

// me handles GET /accounts/me
func (h *handler) me(c *gin.Context) {
	ctx := c.Request.Context()
	id := actor(c).AccountID

	a, err := h.svc.Accounts.Account(ctx, id)
	if err != nil {
		h.fail(c, "me", err)
		return
	}
	p, err := h.svc.Accounts.Profile(ctx, id)
	if err != nil {
		h.fail(c, "me", err)
		return
	}
	addr, err := h.svc.Accounts.Address(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.fail(c, "me", err)
		return
	}
	jsonResponse(c, http.StatusOK, meResponse{Account: a, Profile: p, Address: addr}, "account retrieved")
}

// setAddress handles PUT /accounts/me/address
func (h *handler) setAddress(c *gin.Context) {
	var req store.Address
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "setAddress", err)
		return
	}
	if err := h.svc.Accounts.SetAddress(c.Request.Context(), actor(c).AccountID, req); err != nil {
		h.fail(c, "setAddress", err)
		return
	}
	jsonResponse(c, http.StatusOK, req, "address saved")
}

// redeemPoints handles POST /accounts/me/points/redeem
func (h *handler) redeemPoints(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "redeemPoints", err)
		return
	}
	balance, err := h.svc.Accounts.RedeemPoints(c.Request.Context(), actor(c).AccountID, req.Points)
	if err != nil {
		h.fail(c, "redeemPoints", err)
		return
	}
	jsonResponse(c, http.StatusOK, gin.H{"balance": balance}, "points redeemed")
}

// payFine handles POST /accounts/me/fine
func (h *handler) payFine(c *gin.Context) {
	balance, err := h.svc.Reputation.PayFine(c.Request.Context(), actor(c).AccountID)
	if err != nil {
		h.fail(c, "payFine", err)
		return
	}
	jsonResponse(c, http.StatusOK, gin.H{"balance": balance}, "fine paid")
}

// apply handles POST /accounts/me/application
func (h *handler) apply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "apply", err)
		return
	}
	app, err := h.svc.Moderation.Apply(c.Request.Context(), actor(c).AccountID, req.CaptchaCompleted)
	if err != nil {
		h.fail(c, "apply", err)
		return
	}
	jsonResponse(c, http.StatusCreated, app, "application filed")
}

// requestQuit handles POST /accounts/me/quit
func (h *handler) requestQuit(c *gin.Context) {
	var req quitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "requestQuit", err)
		return
	}
	q, err := h.svc.Moderation.RequestQuit(c.Request.Context(), actor(c).AccountID, req.Reason)
	if err != nil {
		h.fail(c, "requestQuit", err)
		return
	}
	jsonResponse(c, http.StatusCreated, q, "quit request filed")
}
