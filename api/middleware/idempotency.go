package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/apmatch-backend/api/responses"
	pkgerrors "github.com/angelmondragon/apmatch-backend/pkg/errors"
	"github.com/angelmondragon/apmatch-backend/pkg/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// a reservation outlives a slow handler but not a crashed one
	pendingIdempotencyTTL = 2 * time.Minute
	maxIdempotencyKeyLen  = 255
	maxReplayBodyBytes    = 1 << 20
)

// idempotentRoutes are "METHOD /path" templates; "*" matches one path segment.
// Payment routes move money, so their replay window is a week.
var idempotentRoutes = map[string]bool{
	"POST /api/v1/vendors":                   false,
	"POST /api/v1/invoices/ingest":           false,
	"POST /api/v1/invoices/*/approve":        false,
	"POST /api/v1/payments/intents":          true,
	"POST /api/v1/payments/intents/*/cancel": true,
}

type idempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// storedResponse is what lives under an idempotency key. Pending marks a
// reservation taken by a request that has not finished yet.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the routes in idempotentRoutes safe to retry. The first
// request with a given Idempotency-Key reserves it, runs, and stores its
// response; later requests with the same key and body get that response
// back. Server errors release the key so the client can try again.
func Idempotency(store idempotencyStore, responseTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if responseTTL <= 0 {
		responseTTL = defaultIdempotencyTTL
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			critical, guarded := lookupIdempotentRoute(r.Method, r.URL.Path)
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ttl := responseTTL
			if critical {
				ttl = criticalIdempotencyTTL
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "Idempotency-Key longer than %d characters", maxIdempotencyKeyLen))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReplayBodyBytes))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := digest(body)
			op, _ := OperatorFromContext(ctx)
			key := store.IdempotencyKey(op.ID, digest([]byte(r.Method+" "+r.URL.Path+" "+clientKey)))

			reservation, _ := json.Marshal(storedResponse{Pending: true, RequestHash: requestHash})
			reserved, err := store.SetNX(ctx, key, string(reservation), pendingIdempotencyTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replay(ctx, logg, store, w, key, requestHash)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			// the client may be gone; the outcome still has to be recorded
			persistCtx := context.WithoutCancel(ctx)
			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(persistCtx, key); err != nil {
					logg.Error(ctx, "idempotency.release_failed", err)
				}
				return
			}
			payload, err := json.Marshal(storedResponse{
				RequestHash: requestHash,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(persistCtx, key, string(payload), ttl)
			}
			if err != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func replay(ctx context.Context, logg *logger.Logger, store idempotencyStore, w http.ResponseWriter, key, requestHash string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// released or expired between SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	if stored.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if stored.Pending {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// lookupIdempotentRoute reports whether method+path is guarded and whether it
// gets the long replay window.
func lookupIdempotentRoute(method, path string) (critical, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for route, isCritical := range idempotentRoutes {
		routeMethod, template, _ := strings.Cut(route, " ")
		if routeMethod == method && templateMatches(strings.Split(strings.Trim(template, "/"), "/"), segments) {
			return isCritical, true
		}
	}
	return false, false
}

func templateMatches(template, segments []string) bool {
	if len(template) != len(segments) {
		return false
	}
	for i, part := range template {
		if part == "*" {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if part != segments[i] {
			return false
		}
	}
	return true
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
