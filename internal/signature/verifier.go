package signature

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/replay"
)

// Request is one inbound delivery as handed over by the HTTP layer.
type Request struct {
	RouteOptions

	// Body is the raw request body. Nil means it was never captured.
	Body    []byte
	Headers http.Header
	// Decoded is the parsed JSON body, if the caller already has it. It is
	// only used for event type extraction.
	Decoded map[string]interface{}
}

// Result is the outcome of a successful verification.
type Result struct {
	Valid     bool       `json:"valid"`
	Provider  string     `json:"provider"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Verifier authenticates webhook deliveries and rejects replays.
type Verifier struct {
	settings Settings
	registry *Registry
	logger   logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	guard      *replay.Guard
	ownedStore *replay.MemoryStore
	closed     bool
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRegistry replaces the default provider registry.
func WithRegistry(registry *Registry) Option {
	return func(v *Verifier) { v.registry = registry }
}

// WithGuard sets the replay guard. Without one, an in-memory guard is created
// the first time replay protection is needed and torn down by Close.
func WithGuard(guard *replay.Guard) Option {
	return func(v *Verifier) { v.guard = guard }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier.
func NewVerifier(settings Settings, opts ...Option) *Verifier {
	v := &Verifier{
		settings: settings,
		registry: defaultRegistry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.GetGlobalLogger()
	}
	return v
}

// Close stops the in-memory nonce store if the verifier created one.
func (v *Verifier) Close() error {
	v.mu.Lock()
	store := v.ownedStore
	v.closed = true
	v.mu.Unlock()

	if store != nil {
		return store.Close()
	}
	return nil
}

// Verify runs the verification sequence and stops at the first failure. Any
// returned error is a *VerificationError.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*Result, error) {
	eff := Merge(v.settings, req.RouteOptions)
	logger := v.logger.WithContext(ctx).WithFields(logging.String("provider", eff.Provider))

	result, err := v.verify(ctx, req, eff)
	if err != nil {
		v.logFailure(logger, err)
		return nil, err
	}

	logger.Debug("Webhook signature verified",
		logging.String("event_type", result.EventType),
		logging.Bool("replay_checked", eff.ReplayEnabled && result.Timestamp != nil),
	)

	if v.settings.OnVerified != nil {
		v.settings.OnVerified(WithResult(ctx, result), result)
	}
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, req *Request, eff Effective) (*Result, *VerificationError) {
	if eff.Secret == "" {
		return nil, newError(KindMissingSecret, eff.Provider, "no secret configured for provider %q", eff.Provider)
	}

	if req.Body == nil {
		return nil, newError(KindMissingRawBody, eff.Provider, "raw body must be captured before verification")
	}

	provider, err := v.registry.Resolve(eff.Provider, eff.Custom)
	if err != nil {
		verr, _ := AsVerificationError(err)
		return nil, verr
	}

	values := headerValues(req.Headers, provider.SignatureHeader)
	if len(values) != 1 || values[0] == "" {
		return nil, newError(KindMissingSignature, provider.Name, "header %s must carry exactly one value", provider.SignatureHeader)
	}
	header := values[0]

	var timestamp *time.Time
	tsSource := ""
	switch {
	case provider.TimestampHeader != "":
		if tsValues := headerValues(req.Headers, provider.TimestampHeader); len(tsValues) > 0 {
			tsSource = tsValues[0]
		}
	case provider.TimestampInSignature:
		tsSource = header
	}
	if tsSource != "" {
		ts, err := provider.ParseTimestamp(tsSource)
		if err != nil {
			return nil, invalidSignature(provider.Name, err)
		}
		timestamp = &ts
	}

	if eff.ReplayEnabled && timestamp != nil {
		now := v.now()
		// Bounds rather than a Duration: Sub saturates for far-off timestamps.
		if timestamp.Before(now.Add(-eff.Tolerance)) || timestamp.After(now.Add(eff.Tolerance)) {
			verr := newError(KindTimestampExpired, provider.Name, "timestamp %d is outside the %s window around server time",
				timestamp.Unix(), eff.Tolerance)
			verr.Timestamp = *timestamp
			verr.Tolerance = eff.Tolerance
			return nil, verr
		}
	}

	token, err := provider.ExtractSignature(header)
	if err != nil {
		return nil, invalidSignature(provider.Name, err)
	}
	expected, err := provider.ComputeSignature(req.Body, eff.Secret, timestamp)
	if err != nil {
		return nil, invalidSignature(provider.Name, err)
	}
	if !Compare(token, expected, provider.Encoding) {
		return nil, newError(KindInvalidSignature, provider.Name, "signature mismatch")
	}

	// Only verified deliveries may reach the nonce store.
	if eff.ReplayEnabled && timestamp != nil {
		guard := v.replayGuard().WithTolerance(eff.Tolerance)
		fresh, err := guard.Claim(ctx, replay.Nonce(provider.Name, token, *timestamp))
		if err != nil {
			verr := newError(KindReplayStoreUnavailable, provider.Name, "nonce store failed")
			verr.Cause = err
			return nil, verr
		}
		if !fresh {
			return nil, newError(KindReplayAttack, provider.Name, "delivery was already accepted")
		}
	}

	decoded := req.Decoded
	if decoded == nil {
		// Not every sender posts JSON; a body that does not decode has no event type.
		_ = json.Unmarshal(req.Body, &decoded)
	}

	return &Result{
		Valid:     true,
		Provider:  provider.Name,
		Timestamp: timestamp,
		EventType: provider.ExtractEventType(decoded),
	}, nil
}

func (v *Verifier) replayGuard() *replay.Guard {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.guard == nil {
		store := replay.NewMemoryStore(replay.DefaultSweepInterval, v.logger)
		// A closed verifier still answers, but starts no sweep to leak.
		if !v.closed {
			if err := store.Start(); err != nil {
				v.logger.Error("Failed to start nonce sweep", err)
			}
		}
		v.ownedStore = store
		v.guard = replay.NewGuard(store, v.settings.Replay.Tolerance)
	}
	return v.guard
}

// headerValues collects every value whose key matches name case-insensitively,
// canonical key first, so maps built without http.Header's canonical keys
// still resolve and differently-cased duplicates still count.
func headerValues(h http.Header, name string) []string {
	canonical := http.CanonicalHeaderKey(name)
	values := append([]string(nil), h[canonical]...)
	for key, vs := range h {
		if key != canonical && strings.EqualFold(key, name) {
			values = append(values, vs...)
		}
	}
	return values
}

func (v *Verifier) logFailure(logger logging.Logger, err *VerificationError) {
	appErr := err.AppError()
	fields := []logging.Field{
		logging.String("kind", appErr.Code),
		logging.String("error_type", string(appErr.Type)),
		logging.String("reason", err.Message),
	}
	if err.Kind == KindTimestampExpired {
		fields = append(fields,
			logging.Time("timestamp", err.Timestamp),
			logging.Duration("tolerance", err.Tolerance),
		)
	}

	if err.IsConfigError() {
		logger.Error("Webhook verification misconfigured", appErr, fields...)
		return
	}
	if v.settings.LogAttempts {
		logger.Warn("Webhook verification failed", fields...)
	}
}

func invalidSignature(provider string, cause error) *VerificationError {
	verr := newError(KindInvalidSignature, provider, "signature header could not be verified")
	verr.Cause = cause
	return verr
}
