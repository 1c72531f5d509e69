package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

const actorKey = "actor"

// requestTracer starts a server span per request and hands its context
// to the handlers.
func requestTracer(tp trace.TracerProvider) gin.HandlerFunc {
	tracer := tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/api")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// requestLogger logs every request with its status and latency.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.InfoContext(c.Request.Context(), "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// authenticate resolves the bearer session token to an account and stores
// the caller's Actor on the context.
func authenticate(idp identity.Provider, accounts *ledger.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			jsonError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		ctx := c.Request.Context()
		email, err := idp.VerifySession(ctx, strings.TrimSpace(token))
		if err != nil {
			jsonError(c, statusOf(err), err.Error())
			return
		}
		a, err := accounts.AccountByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			jsonError(c, http.StatusUnauthorized, "no account for session")
			return
		}
		if err != nil {
			logger.ErrorContext(ctx, "resolving session account", slog.Any("error", err))
			jsonError(c, http.StatusInternalServerError, "internal server error")
			return
		}

		c.Set(actorKey, authz.ActorFor(a))
		c.Next()
	}
}

// actor returns the authenticated caller.
func actor(c *gin.Context) authz.Actor {
	a, _ := c.MustGet(actorKey).(authz.Actor)
	return a
}
