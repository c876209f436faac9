package signature

import (
	stderrors "errors"
	"fmt"
	"time"

	"webhook-verifier/internal/common/errors"
)

// Kind classifies a verification failure.
type Kind string

const (
	KindMissingSecret          Kind = "missing_secret"
	KindMissingRawBody         Kind = "missing_raw_body"
	KindUnknownProvider        Kind = "unknown_provider"
	KindMissingSignature       Kind = "missing_signature"
	KindInvalidSignature       Kind = "invalid_signature"
	KindTimestampExpired       Kind = "timestamp_expired"
	KindReplayAttack           Kind = "replay_attack"
	KindReplayStoreUnavailable Kind = "replay_store_unavailable"
)

// Sentinels for errors.Is. They match any VerificationError of the same kind.
var (
	ErrMissingSecret          = &VerificationError{Kind: KindMissingSecret, Message: "webhook secret is not configured"}
	ErrMissingRawBody         = &VerificationError{Kind: KindMissingRawBody, Message: "raw request body was not captured"}
	ErrUnknownProvider        = &VerificationError{Kind: KindUnknownProvider, Message: "unknown provider"}
	ErrMissingSignature       = &VerificationError{Kind: KindMissingSignature, Message: "signature header is missing"}
	ErrInvalidSignature       = &VerificationError{Kind: KindInvalidSignature, Message: "signature is invalid"}
	ErrTimestampExpired       = &VerificationError{Kind: KindTimestampExpired, Message: "timestamp is outside the tolerance window"}
	ErrReplayAttack           = &VerificationError{Kind: KindReplayAttack, Message: "request has already been processed"}
	ErrReplayStoreUnavailable = &VerificationError{Kind: KindReplayStoreUnavailable, Message: "replay protection store is unavailable"}
)

// Provider-level parse failures. The verifier reports them as invalid signatures.
var (
	ErrMalformedHeader   = stderrors.New("malformed signature header")
	ErrTimestampRequired = stderrors.New("timestamp is required by this provider")
)

// VerificationError is the single failure type returned by Verifier.Verify.
type VerificationError struct {
	Kind     Kind
	Provider string
	Message  string

	// Set for KindTimestampExpired
	Timestamp time.Time
	Tolerance time.Duration

	Cause error
}

func newError(kind Kind, provider, format string, args ...interface{}) *VerificationError {
	return &VerificationError{
		Kind:     kind,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
	}
}

func (e *VerificationError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (provider=%s)", msg, e.Provider)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can use the package sentinels.
func (e *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsConfigError reports failures caused by server setup rather than the sender.
// They should alert operators instead of being counted as attacks.
func (e *VerificationError) IsConfigError() bool {
	switch e.Kind {
	case KindMissingSecret, KindMissingRawBody, KindReplayStoreUnavailable:
		return true
	default:
		return false
	}
}

// ErrorType places the kind in the shared application error taxonomy.
func (e *VerificationError) ErrorType() errors.ErrorType {
	switch e.Kind {
	case KindMissingSecret, KindMissingRawBody:
		return errors.ErrTypeConfig
	case KindReplayStoreUnavailable:
		return errors.ErrTypeConnection
	case KindUnknownProvider:
		return errors.ErrTypeValidation
	default:
		return errors.ErrTypeAuth
	}
}

// StatusCode is the default HTTP status for the failure.
func (e *VerificationError) StatusCode() int {
	return errors.HTTPStatus(e.ErrorType())
}

// AppError maps the failure onto the shared application error taxonomy.
func (e *VerificationError) AppError() *errors.AppError {
	var appErr *errors.AppError
	switch e.ErrorType() {
	case errors.ErrTypeConfig:
		appErr = errors.ConfigError(e.Message)
	case errors.ErrTypeConnection:
		appErr = errors.ConnectionError(e.Message, e.Cause)
	case errors.ErrTypeValidation:
		appErr = errors.ValidationError(e.Message)
	default:
		appErr = errors.AuthError(e.Message)
	}

	appErr = appErr.WithCode(string(e.Kind))
	if e.Provider != "" {
		appErr = appErr.WithContext("provider", e.Provider)
	}
	return appErr
}

// AsVerificationError extracts a VerificationError from err's chain.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	if stderrors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
