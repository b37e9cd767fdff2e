package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/verstore/internal/engine"
	"github.com/rpattn/verstore/internal/recordloader"
)

type ctxKey string

const recordLoaderKey ctxKey = "recordLoader"

// DataLoaderMiddleware attaches a per-request record loader to the context
func DataLoaderMiddleware(eng *engine.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := recordloader.NewRecordLoader(eng)

			ctx := context.WithValue(r.Context(), recordLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecordLoaderFromContext retrieves the record loader from context
func RecordLoaderFromContext(ctx context.Context) *recordloader.RecordLoader {
	if l, ok := ctx.Value(recordLoaderKey).(*recordloader.RecordLoader); ok {
		return l
	}
	return nil
}
