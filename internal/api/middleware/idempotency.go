package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/marketplace-ledger/internal/api/problem"
	"github.com/ayo6706/marketplace-ledger/internal/idempotency"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyMiddleware makes every non-safe request replayable by its
// Idempotency-Key. Keys are scoped to the caller, so it must be mounted
// after AuthMiddleware.
//
// A key reused with a different body is a 409. A key still being served is
// waited on, then replayed. 5xx outcomes release the key for a retry.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			c, ok := newIdemCall(w, r, store, logger)
			if !ok {
				return
			}
			if c.replayed() {
				return
			}
			c.serve(next)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// idemCall is one request passing through the middleware.
type idemCall struct {
	w      http.ResponseWriter
	r      *http.Request
	store  *idempotency.Store
	logger *zap.Logger
	key    string
	hash   string
}

func newIdemCall(w http.ResponseWriter, r *http.Request, store *idempotency.Store, logger *zap.Logger) (*idemCall, bool) {
	raw := r.Header.Get(idempotencyHeader)
	if raw == "" {
		observability.IncrementIdempotencyEvent("missing_key")
		reject(w, r, http.StatusBadRequest, "idempotency/missing-key", idempotencyHeader+" header is required")
		return nil, false
	}

	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		reject(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return &idemCall{
		w:      w,
		r:      r,
		store:  store,
		logger: logger,
		key:    idempotency.ScopedKey(UserIDFromContext(r.Context()), raw),
		hash:   requestFingerprint(r.Method, r.URL.Path, body),
	}, true
}

// replayed answers from a stored or in-flight record when there is one.
// It returns false only once the key is reserved for this call.
func (c *idemCall) replayed() bool {
	ctx := c.r.Context()

	rec, err := c.store.Lookup(ctx, c.key, c.hash)
	switch {
	case err == nil:
		c.replay(rec, "replay")
		return true
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		reject(c.w, c.r, http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was already used with a different request")
		return true
	case errors.Is(err, idempotency.ErrInProgress):
		return c.awaitOther("replay_after_wait")
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		c.logger.Warn("idempotency lookup failed", zap.String("key", c.key), zap.Error(err))
	}

	reserved, err := c.store.Reserve(ctx, c.key, c.hash, c.r.Method, c.r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		c.logger.Error("idempotency reserve failed", zap.String("key", c.key), zap.Error(err))
		reject(c.w, c.r, http.StatusInternalServerError, "idempotency/unavailable", "Idempotency store unavailable")
		return true
	}
	if !reserved {
		return c.awaitOther("replay_after_reserve")
	}
	observability.IncrementIdempotencyEvent("reserved")
	return false
}

// awaitOther waits for the concurrent holder of the key to finish.
func (c *idemCall) awaitOther(event string) bool {
	rec, err := c.store.WaitForCompletion(c.r.Context(), c.key, c.hash)
	if err == nil {
		c.replay(rec, event)
		return true
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	c.logger.Warn("idempotency wait failed", zap.String("key", c.key), zap.Error(err))
	reject(c.w, c.r, http.StatusConflict, "idempotency/in-progress", "A request with this Idempotency-Key is still being processed")
	return true
}

func (c *idemCall) replay(rec *idempotency.Record, event string) {
	observability.IncrementIdempotencyEvent(event)
	h := c.w.Header()
	h.Set("Content-Type", rec.ContentType)
	h.Set("X-Idempotent-Replay", rec.ServedBy)
	c.w.WriteHeader(rec.Status)
	_, _ = c.w.Write(rec.Body)
}

// serve runs the handler and stores what it answered.
func (c *idemCall) serve(next http.Handler) {
	rec := &captureWriter{ResponseWriter: c.w}
	next.ServeHTTP(rec, c.r)

	ctx := c.r.Context()
	status := rec.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := c.store.Release(ctx, c.key, c.hash); err != nil {
			c.logger.Warn("idempotency release failed", zap.String("key", c.key), zap.Error(err))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := c.store.Finalize(ctx, c.key, c.hash, status, rec.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		c.logger.Warn("idempotency finalize failed", zap.String("key", c.key), zap.Error(err))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func reject(w http.ResponseWriter, r *http.Request, status int, slug, detail string) {
	problem.Write(w, r, status, problem.Type(slug), http.StatusText(status), detail)
}

// requestFingerprint binds a key to one method, path and body.
func requestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.status == 0 {
		cw.status = code
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

func (cw *captureWriter) statusOrOK() int {
	if cw.status == 0 {
		return http.StatusOK
	}
	return cw.status
}
