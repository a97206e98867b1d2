package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HeaderKey is the request header clients use to make a mutation replayable.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed marks responses served from a stored snapshot.
const HeaderReplayed = "Idempotency-Replayed"

// Config controls how long a duplicate request waits for the in-flight
// winner before giving up.
type Config struct {
	Wait         time.Duration
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Wait:         5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// bufferedResponseWriter captures the response body so the middleware can
// persist a snapshot before flushing to the real writer.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        *bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{
		writer:     w,
		buf:        &bytes.Buffer{},
		statusCode: http.StatusOK,
	}
}

// Header returns the underlying writer's header map so that headers set by
// handlers are visible to both the middleware and the final flush.
func (w *bufferedResponseWriter) Header() http.Header {
	return w.writer.Header()
}

// Write captures bytes into the buffer instead of sending them immediately.
func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// WriteHeader captures the status code without writing it to the underlying writer.
func (w *bufferedResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

// Flush implements http.Flusher (no-op for buffer).
func (w *bufferedResponseWriter) Flush() {}

// flushTo writes the buffered status and body to the underlying writer.
func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	if w.buf.Len() > 0 {
		_, err := w.writer.Write(w.buf.Bytes())
		return err
	}
	return nil
}

// hashBody returns the hex-encoded SHA-256 of the raw request body.
func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Middleware makes the wrapped mutation execute at most once per
// (endpoint path, Idempotency-Key) pair. Requests without the header pass
// through untouched. The first request with a given key claims it with an
// atomic pending insert, runs the handler with a buffered writer, and
// persists the response snapshot. Retries with the same key and body get
// the stored response verbatim; a retry with a different body is rejected;
// a retry racing the in-flight winner polls briefly for the snapshot.
func Middleware(store Store, logger zerolog.Logger, cfg Config) echo.MiddlewareFunc {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultConfig().Wait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	mutating := func(method string) bool {
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return true
		}
		return false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderKey)
			if key == "" || !mutating(c.Request().Method) {
				return next(c)
			}

			req := c.Request()
			ctx := req.Context()
			path := req.URL.Path

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			reqHash := hashBody(body)

			rec := &Record{EndpointPath: path, Key: key, RequestHash: reqHash}
			insertErr := store.Insert(ctx, rec)
			if insertErr == nil {
				return runAndSnapshot(c, next, store, logger, rec)
			}
			if !errors.Is(insertErr, ErrDuplicateKey) {
				logger.Error().Err(insertErr).Str("path", path).Msg("idempotency insert failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}

			existing, err := store.Get(ctx, path, key)
			if err != nil {
				// The winner failed and deleted its pending record between
				// our insert and read. Tell the client to retry.
				if errors.Is(err, ErrNotFound) {
					return c.JSON(http.StatusConflict, errorBody{
						Code:    "REQUEST_IN_FLIGHT",
						Message: "a request with this idempotency key was aborted, retry",
					})
				}
				logger.Error().Err(err).Str("path", path).Msg("idempotency read failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}

			if existing.RequestHash != reqHash {
				return c.JSON(http.StatusConflict, errorBody{
					Code:    "PAYLOAD_CONFLICT",
					Message: "idempotency key was already used with a different request body",
				})
			}

			if existing.Completed {
				return replay(c, existing)
			}
			return waitForWinner(c, store, cfg, path, key, reqHash)
		}
	}
}

// runAndSnapshot executes the handler with a buffered writer and stores the
// response before flushing it. A handler error releases the pending record
// so the client can retry.
func runAndSnapshot(c echo.Context, next echo.HandlerFunc, store Store, logger zerolog.Logger, rec *Record) error {
	ctx := c.Request().Context()
	res := c.Response()
	origWriter := res.Writer
	buf := newBufferedResponseWriter(origWriter)
	res.Writer = buf

	if err := next(c); err != nil {
		res.Writer = origWriter
		if delErr := store.Delete(ctx, rec.ID); delErr != nil {
			logger.Error().Err(delErr).
				Str("path", rec.EndpointPath).
				Msg("failed to release pending idempotency record")
		}
		return err
	}
	res.Writer = origWriter

	if err := store.Complete(ctx, rec.ID, buf.statusCode, buf.buf.Bytes()); err != nil {
		// The real response already exists; losing the snapshot only costs
		// replay capability, so serve the response anyway.
		logger.Error().Err(err).
			Str("path", rec.EndpointPath).
			Msg("failed to store idempotency snapshot")
	}
	return buf.flushTo()
}

// replay serves the stored snapshot verbatim.
func replay(c echo.Context, rec *Record) error {
	c.Response().Header().Set(HeaderReplayed, "true")
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(rec.ResponseStatus)
	if len(rec.ResponseBody) > 0 {
		_, err := c.Response().Write(rec.ResponseBody)
		return err
	}
	return nil
}

// waitForWinner polls for the in-flight winner's snapshot. Bounded: after
// cfg.Wait the client is told to retry rather than holding the connection.
func waitForWinner(c echo.Context, store Store, cfg Config, path, key, reqHash string) error {
	ctx := c.Request().Context()
	deadline := time.Now().Add(cfg.Wait)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}

		rec, err := store.Get(ctx, path, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Winner failed and released the key.
				return c.JSON(http.StatusConflict, errorBody{
					Code:    "REQUEST_IN_FLIGHT",
					Message: "a request with this idempotency key was aborted, retry",
				})
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		if rec.RequestHash != reqHash {
			return c.JSON(http.StatusConflict, errorBody{
				Code:    "PAYLOAD_CONFLICT",
				Message: "idempotency key was already used with a different request body",
			})
		}
		if rec.Completed {
			return replay(c, rec)
		}
	}

	return c.JSON(http.StatusConflict, errorBody{
		Code:    "REQUEST_IN_FLIGHT",
		Message: "a request with this idempotency key is still being processed, retry later",
	})
}
