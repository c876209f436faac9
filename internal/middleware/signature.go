package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"webhook-verifier/internal/common/errors"
	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/signature"
)

// Verifier is the verification entry point used by the middleware.
type Verifier interface {
	Verify(ctx context.Context, req *signature.Request) (*signature.Result, error)
}

// ErrorHandler writes the response for a rejected delivery.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err *signature.VerificationError)

type signatureOptions struct {
	onError ErrorHandler
}

// SignatureOption configures the Signature middleware.
type SignatureOption func(*signatureOptions)

// WithErrorHandler replaces DefaultErrorHandler.
func WithErrorHandler(handler ErrorHandler) SignatureOption {
	return func(o *signatureOptions) { o.onError = handler }
}

// Signature verifies each request for the given route before passing it on.
// It expects CaptureRawBody earlier in the chain. The verified result is
// available downstream through signature.ResultFromContext.
func Signature(verifier Verifier, route signature.RouteOptions, opts ...SignatureOption) func(http.Handler) http.Handler {
	options := signatureOptions{onError: DefaultErrorHandler}
	for _, opt := range opts {
		opt(&options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logging.WithProvider(r.Context(), route.Provider)

			result, err := verifier.Verify(ctx, &signature.Request{
				RouteOptions: route,
				Body:         RawBodyFromContext(ctx),
				Headers:      r.Header,
			})
			if err != nil {
				verr, ok := signature.AsVerificationError(err)
				if !ok {
					verr = &signature.VerificationError{Kind: signature.KindInvalidSignature, Provider: route.Provider, Message: "verification failed", Cause: err}
				}
				options.onError(w, r.WithContext(ctx), verr)
				return
			}

			next.ServeHTTP(w, r.WithContext(signature.WithResult(ctx, result)))
		})
	}
}

// DefaultErrorHandler answers with the failure kind and the kind's default
// status. Configuration failures do not echo their detail to the sender.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err *signature.VerificationError) {
	appErr := err.AppError()
	message := appErr.Message
	if err.IsConfigError() {
		message = "webhook endpoint is misconfigured"
	}
	writeError(w, errors.HTTPStatus(appErr.Type), appErr.Code, message)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: kind, Message: message})
}
