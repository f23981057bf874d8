package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mandiflow/produce-backend/pkg/logger"
)

const headerRequestID = "X-Request-Id"

// RequestID tags every request with an id for log correlation. A
// gateway-assigned id is honored when present; otherwise one is minted here.
// The id is echoed back on the response so clients can quote it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
