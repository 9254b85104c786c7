package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// Instrument returns a middleware that wraps the handler with otelhttp
// tracing and metrics under the given operation name.
func Instrument(operation string, m *app.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		)
	}
}

// Labeler returns a middleware that attaches the matched route pattern to the
// otelhttp metric labels, keeping cardinality bounded to registered routes
// instead of raw URL paths. It must run inside Instrument.
func Labeler() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			if r.Pattern == "" {
				return
			}
			labeler, ok := otelhttp.LabelerFromContext(r.Context())
			if !ok {
				return
			}
			labeler.Add(attribute.String("http.route", r.Pattern))
		})
	}
}
