package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type rateRequest struct {
	Score int `json:"score" binding:"required"`
}

type reportRequest struct {
	Text string `json:"text" binding:"required"`
}

type reviewRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// rate handles POST /profiles/:id/ratings
func (h *handler) rate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "rate", err)
		return
	}
	r, err := h.svc.Reputation.Rate(c.Request.Context(), actor(c).AccountID, c.Param("id"), req.Score)
	if err != nil {
		h.fail(c, "rate", err)
		return
	}
	jsonResponse(c, http.StatusCreated, r, "rating recorded")
}

// report handles POST /profiles/:id/reports
func (h *handler) report(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "report", err)
		return
	}
	r, err := h.svc.Reputation.Report(c.Request.Context(), actor(c).AccountID, c.Param("id"), req.Text)
	if err != nil {
		h.fail(c, "report", err)
		return
	}
	jsonResponse(c, http.StatusCreated, r, "report filed")
}

func (h *handler) bindReview(c *gin.Context, op string) (bool, bool) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, op, err)
		return false, false
	}
	return *req.Approve, true
}

// reviewApplication handles POST /admin/applications/:id/review
func (h *handler) reviewApplication(c *gin.Context) {
	approve, ok := h.bindReview(c, "reviewApplication")
	if !ok {
		return
	}
	if err := h.svc.Moderation.ReviewApplication(c.Request.Context(), actor(c), c.Param("id"), approve); err != nil {
		h.fail(c, "reviewApplication", err)
		return
	}
	jsonResponse(c, http.StatusOK, gin.H{"approved": approve}, "application reviewed")
}

// reviewReport handles POST /admin/reports/:id/review
func (h *handler) reviewReport(c *gin.Context) {
	approve, ok := h.bindReview(c, "reviewReport")
	if !ok {
		return
	}
	if err := h.svc.Moderation.ReviewReport(c.Request.Context(), actor(c), c.Param("id"), approve); err != nil {
		h.fail(c, "reviewReport", err)
		return
	}
	jsonResponse(c, http.StatusOK, gin.H{"approved": approve}, "report reviewed")
}

// reviewQuit handles POST /admin/quit-requests/:id/review
func (h *handler) reviewQuit(c *gin.Context) {
	approve, ok := h.bindReview(c, "reviewQuit")
	if !ok {
		return
	}
	if err := h.svc.Moderation.ReviewQuit(c.Request.Context(), actor(c), c.Param("id"), approve); err != nil {
		h.fail(c, "reviewQuit", err)
		return
	}
	jsonResponse(c, http.StatusOK, gin.H{"approved": approve}, "quit request reviewed")
}
