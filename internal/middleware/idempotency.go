package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/GGUFloader/agentcore/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	idempotencyPrefix    = "idem:"
	maxIdempotencyBody   = 1 << 20
)

type storedResponse struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header"`
	Body   []byte              `json:"body"`
}

// Idempotency replays the stored response of a mutating request that
// carries an already seen Idempotency-Key. Only 2xx responses are stored,
// so a request rejected as busy or rate limited can be retried.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			ck := idempotencyPrefix + r.Method + ":" + r.URL.Path + ":" + key

			if data, ok, err := c.Get(r.Context(), ck); err != nil {
				slog.Warn("idempotency lookup failed", "error", err)
			} else if ok {
				var stored storedResponse
				if err := json.Unmarshal(data, &stored); err == nil {
					for k, vals := range stored.Header {
						w.Header()[k] = vals
					}
					w.Header().Set(headerReplayed, "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}
				slog.Warn("idempotency: corrupt entry", "key", key)
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status > 299 || rec.body.Len() > maxIdempotencyBody {
				return
			}
			data, err := json.Marshal(storedResponse{
				Status: rec.status,
				Header: map[string][]string{"Content-Type": w.Header().Values("Content-Type")},
				Body:   rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), ck, data, ttl); err != nil {
				slog.Warn("idempotency: store failed", "key", key, "error", err)
			}
		})
	}
}

// capture records the status and body while writing through.
type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
