package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/wabaledger/internal/auditcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrAccountID  = "wabaledger.account_id"
	attrDenyReason = "wabaledger.deny_reason"
)

// GinMiddleware opens a server span per request, tagged with the wallet and
// the guard outcome when the handler set one.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("wabaledger/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		ctx = correlate(ctx, span)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		finish(c, span)
	}
}

// correlate copies the request and account ids onto the span and propagates
// the request id as baggage.
func correlate(ctx context.Context, span trace.Span) context.Context {
	if accountID := auditcontext.AccountIDFromContext(ctx); accountID != "" {
		span.SetAttributes(attribute.String(attrAccountID, accountID))
	}
	requestID := auditcontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// finish ends the span. A 402 or 429 from the guard is an outcome, not an
// error, so only 5xx marks the span failed.
func finish(c *gin.Context, span trace.Span) {
	defer span.End()

	if accountID := strings.TrimSpace(c.Param("id")); accountID != "" {
		span.SetAttributes(attribute.String(attrAccountID, accountID))
	}
	if reason := strings.TrimSpace(c.GetString("deny_reason")); reason != "" {
		span.SetAttributes(attribute.String(attrDenyReason, reason))
	}
	if c.Writer.Status() < http.StatusInternalServerError {
		return
	}
	if lastErr := c.Errors.Last(); lastErr != nil {
		if safeErr := SafeError(lastErr.Err); safeErr != nil {
			span.RecordError(safeErr)
		}
	}
	span.SetStatus(codes.Error, "request error")
}
