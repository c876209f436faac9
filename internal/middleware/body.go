package middleware

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes caps captured webhook bodies at 1 MiB.
const DefaultMaxBodyBytes int64 = 1 << 20

type rawBodyKey struct{}

// PreserveRequestBody reads the request body and replaces it with a fresh
// reader so later handlers can read it again.
func PreserveRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// CaptureRawBody stores the exact request bytes in the context before any
// handler gets a chance to decode them. Bodies over maxBytes are rejected
// with 413.
func CaptureRawBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			body, err := PreserveRequestBody(r)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if stderrors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
					return
				}
				writeError(w, http.StatusBadRequest, "unreadable_body", "failed to read request body")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithRawBody(r.Context(), body)))
		})
	}
}

// WithRawBody attaches captured body bytes to ctx.
func WithRawBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, body)
}

// RawBodyFromContext returns the bytes captured by CaptureRawBody, or nil.
func RawBodyFromContext(ctx context.Context) []byte {
	body, _ := ctx.Value(rawBodyKey{}).([]byte)
	return body
}
