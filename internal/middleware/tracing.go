package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware continues the caller's W3C trace and wraps the handler
// chain in a server span. The span is named after the route template and
// records how the request was authenticated, or why it was not.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "spendwise-auth"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		req := c.Request
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, spanName(req.Method, c.FullPath(), req.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.target", req.URL.Path),
			),
		)
		defer span.End()
		if id := c.GetString(ctxRequestID); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		c.Request = req.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if route := c.FullPath(); route != "" {
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if authType := c.GetString(ctxAuthType); authType != "" {
			span.SetAttributes(attribute.String("auth.type", authType))
		}
		if kind := c.GetString(ctxAuthReject); kind != "" {
			span.SetAttributes(attribute.String("auth.rejected", kind))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func spanName(method, route, path string) string {
	if route == "" {
		route = path
	}
	return "HTTP " + method + " " + route
}
