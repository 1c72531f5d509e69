// Package api exposes the marketplace over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/health"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/moderation"
	"github.com/jensholdgaard/bluepenguin/internal/reputation"
	"github.com/jensholdgaard/bluepenguin/internal/settlement"
)

// Services are the managers the handlers call into.
type Services struct {
	Accounts   *ledger.Manager
	Auctions   *auction.Manager
	Settlement *settlement.Manager
	Reputation *reputation.Manager
	Moderation *moderation.Manager
	Identity   identity.Provider
	Health     *health.Handler
}

type handler struct {
	svc    Services
	logger *slog.Logger
}

// NewRouter builds the gin engine serving every route.
func NewRouter(svc Services, logger *slog.Logger, tp trace.TracerProvider) *gin.Engine {
	h := &handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestTracer(tp), requestLogger(logger))

	if svc.Health != nil {
		r.GET("/healthz", gin.WrapF(svc.Health.LivenessHandler()))
		r.GET("/readyz", gin.WrapF(svc.Health.ReadinessHandler()))
	}

	r.POST("/accounts", h.register)
	r.POST("/sessions", h.signIn)

	authed := r.Group("", authenticate(svc.Identity, svc.Accounts, logger))

	me := authed.Group("/accounts/me")
	{
		me.GET("", h.me)
		me.PUT("/address", h.setAddress)
		me.POST("/points/redeem", h.redeemPoints)
		me.POST("/fine", h.payFine)
		me.POST("/application", h.apply)
		me.POST("/quit", h.requestQuit)
	}

	items := authed.Group("/items")
	{
		items.POST("", h.listItem)
		items.GET("/:id", h.item)
		items.GET("/:id/bids", h.bids)
		items.GET("/:id/history", h.history)
		items.POST("/:id/bids", h.placeBid)
		items.POST("/:id/winner", h.selectWinner)
	}

	bids := authed.Group("/bids")
	{
		bids.POST("/:id/accept", h.accept)
		bids.POST("/:id/reject", h.reject)
	}

	txs := authed.Group("/transactions")
	{
		txs.POST("/:id/ship", h.ship)
		txs.POST("/:id/receive", h.receive)
	}

	profiles := authed.Group("/profiles")
	{
		profiles.POST("/:id/ratings", h.rate)
		profiles.POST("/:id/reports", h.report)
	}

	admin := authed.Group("/admin")
	{
		admin.POST("/applications/:id/review", h.reviewApplication)
		admin.POST("/reports/:id/review", h.reviewReport)
		admin.POST("/quit-requests/:id/review", h.reviewQuit)
	}

	r.NoRoute(func(c *gin.Context) {
		jsonError(c, http.StatusNotFound, "route not found")
	})
	return r
}
