package signature

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-verifier/internal/common/errors"
	"webhook-verifier/internal/replay"
)

var fixedNow = time.Unix(1700000000, 0)

const (
	stripeSecret  = "whsec_test"
	githubSecret  = "gh-secret"
	slackSecret   = "slack-signing"
	shopifySecret = "shpss_secret"
	twilioSecret  = "twilio-token"
)

func testSettings(replayEnabled bool) Settings {
	return Settings{
		Secrets: map[string]string{
			ProviderStripe:  stripeSecret,
			ProviderGitHub:  githubSecret,
			ProviderSlack:   slackSecret,
			ProviderShopify: shopifySecret,
			ProviderTwilio:  twilioSecret,
		},
		Replay: ReplaySettings{Enabled: replayEnabled, Tolerance: 300 * time.Second},
	}
}

func newTestVerifier(t *testing.T, settings Settings) (*Verifier, *replay.MemoryStore) {
	t.Helper()
	store := replay.NewMemoryStore(time.Minute, nil)
	v := NewVerifier(settings,
		WithGuard(replay.NewGuard(store, settings.Replay.Tolerance)),
		WithClock(func() time.Time { return fixedNow }),
	)
	return v, store
}

// signedRequest builds a correctly signed request for a built-in provider.
func signedRequest(provider, secret, body string, ts time.Time) *Request {
	secs := strconv.FormatInt(ts.Unix(), 10)

	var h http.Header
	switch provider {
	case ProviderStripe:
		h = headers("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", secs, hmacSHA256Hex(secret, secs+"."+body)))
	case ProviderGitHub:
		h = headers("X-Hub-Signature-256", "sha256="+hmacSHA256Hex(secret, body))
	case ProviderSlack:
		h = headers(
			"X-Slack-Signature", "v0="+hmacSHA256Hex(secret, "v0:"+secs+":"+body),
			"X-Slack-Request-Timestamp", secs,
		)
	case ProviderShopify:
		h = headers("X-Shopify-Hmac-Sha256", hmacSHA256Base64(secret, body))
	case ProviderTwilio:
		h = headers("X-Twilio-Signature", hmacSHA1Base64(secret, body))
	}

	return &Request{
		RouteOptions: RouteOptions{Provider: provider},
		Body:         []byte(body),
		Headers:      h,
	}
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	verr, ok := AsVerificationError(err)
	require.True(t, ok, "expected *VerificationError, got %T", err)
	assert.Equal(t, kind, verr.Kind, verr.Error())
}

func TestVerify_BuiltinProviders(t *testing.T) {
	secrets := testSettings(true).Secrets
	body := `{"id":"evt_123","type":"charge.succeeded"}`

	tests := []struct {
		provider      string
		wantTimestamp bool
		wantEventType string
	}{
		{ProviderStripe, true, "charge.succeeded"},
		{ProviderGitHub, false, ""},
		{ProviderSlack, true, "charge.succeeded"},
		{ProviderShopify, false, ""},
		{ProviderTwilio, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(true))

			result, err := v.Verify(context.Background(), signedRequest(tt.provider, secrets[tt.provider], body, fixedNow))
			require.NoError(t, err)

			assert.True(t, result.Valid)
			assert.Equal(t, tt.provider, result.Provider)
			assert.Equal(t, tt.wantEventType, result.EventType)
			if tt.wantTimestamp {
				require.NotNil(t, result.Timestamp)
				assert.Equal(t, fixedNow.Unix(), result.Timestamp.Unix())
			} else {
				assert.Nil(t, result.Timestamp)
			}
		})
	}
}

func TestVerify_MutationsFail(t *testing.T) {
	secrets := testSettings(false).Secrets
	body := `{"type":"ping"}`

	for _, provider := range []string{ProviderStripe, ProviderGitHub, ProviderSlack, ProviderShopify, ProviderTwilio} {
		t.Run(provider+"/body", func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(false))
			req := signedRequest(provider, secrets[provider], body, fixedNow)
			req.Body = []byte(`{"type":"pinG"}`)

			_, err := v.Verify(context.Background(), req)
			assertKind(t, err, KindInvalidSignature)
		})

		t.Run(provider+"/secret", func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(false))
			req := signedRequest(provider, secrets[provider]+"x", body, fixedNow)

			_, err := v.Verify(context.Background(), req)
			assertKind(t, err, KindInvalidSignature)
		})
	}
}

func TestVerify_TokenMutationFails(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(false))
	req := signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow)
	req.Headers.Set("X-Hub-Signature-256", flipHex(req.Headers.Get("X-Hub-Signature-256")))

	_, err := v.Verify(context.Background(), req)
	assertKind(t, err, KindInvalidSignature)
}

func TestVerify_Stripe(t *testing.T) {
	body := `{"type":"invoice.paid"}`
	sig := hmacSHA256Hex(stripeSecret, "1700000000."+body)

	tests := []struct {
		name    string
		header  string
		wantErr Kind
	}{
		{"valid", "t=1700000000,v1=" + sig, ""},
		{"extra schemes", "t=1700000000,v0=ignored,v1=" + sig, ""},
		{"only v0", "t=1700000000,v0=" + sig, KindInvalidSignature},
		{"missing t", "v1=" + sig, KindInvalidSignature},
		{"timestamp not signed", "t=1700000001,v1=" + sig, KindInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(false))
			_, err := v.Verify(context.Background(), &Request{
				RouteOptions: RouteOptions{Provider: ProviderStripe},
				Body:         []byte(body),
				Headers:      headers("Stripe-Signature", tt.header),
			})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assertKind(t, err, tt.wantErr)
		})
	}
}

func TestVerify_GitHubWrongPrefix(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(false))
	_, err := v.Verify(context.Background(), &Request{
		RouteOptions: RouteOptions{Provider: ProviderGitHub},
		Body:         []byte("{}"),
		Headers:      headers("X-Hub-Signature-256", "sha1="+hmacSHA256Hex(githubSecret, "{}")),
	})
	assertKind(t, err, KindInvalidSignature)
}

func TestVerify_Freshness(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		at      time.Time // overrides age
		replay  bool
		wantErr bool
	}{
		{name: "fresh", age: 10 * time.Second, replay: true},
		{name: "at tolerance", age: 300 * time.Second, replay: true},
		{name: "stale", age: 600 * time.Second, replay: true, wantErr: true},
		{name: "future beyond tolerance", age: -600 * time.Second, replay: true, wantErr: true},
		{name: "far future", at: time.Unix(20000000000, 0), replay: true, wantErr: true},
		{name: "far past", at: time.Unix(1, 0), replay: true, wantErr: true},
		{name: "stale but replay disabled", age: 600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, store := newTestVerifier(t, testSettings(tt.replay))
			ts := fixedNow.Add(-tt.age)
			if !tt.at.IsZero() {
				ts = tt.at
			}

			_, err := v.Verify(context.Background(), signedRequest(ProviderSlack, slackSecret, `{"type":"event_callback"}`, ts))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			assertKind(t, err, KindTimestampExpired)
			verr, _ := AsVerificationError(err)
			assert.Equal(t, ts.Unix(), verr.Timestamp.Unix())
			assert.Equal(t, 300*time.Second, verr.Tolerance)
			assert.Zero(t, store.Len(), "rejected deliveries must not be recorded")
		})
	}
}

func TestVerify_StaleUnsignedRequestFailsBeforeSignatureCheck(t *testing.T) {
	v, store := newTestVerifier(t, testSettings(true))
	req := signedRequest(ProviderSlack, "wrong-secret", "{}", fixedNow.Add(-time.Hour))

	_, err := v.Verify(context.Background(), req)
	assertKind(t, err, KindTimestampExpired)
	assert.Zero(t, store.Len())
}

func TestVerify_SlackTimestampHeader(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(true))

	req := signedRequest(ProviderSlack, slackSecret, "{}", fixedNow)
	req.Headers.Del("X-Slack-Request-Timestamp")
	_, err := v.Verify(context.Background(), req)
	assertKind(t, err, KindInvalidSignature)

	req = signedRequest(ProviderSlack, slackSecret, "{}", fixedNow)
	req.Headers.Set("X-Slack-Request-Timestamp", "not-a-number")
	_, err = v.Verify(context.Background(), req)
	assertKind(t, err, KindInvalidSignature)
}

func TestVerify_Replay(t *testing.T) {
	ctx := context.Background()

	t.Run("identical resubmission is rejected", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))
		req := signedRequest(ProviderStripe, stripeSecret, `{"id":"evt_1"}`, fixedNow)

		_, err := v.Verify(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())

		_, err = v.Verify(ctx, req)
		assertKind(t, err, KindReplayAttack)
		assert.True(t, stderrors.Is(err, ErrReplayAttack))
	})

	t.Run("different bodies both succeed", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))

		_, err := v.Verify(ctx, signedRequest(ProviderStripe, stripeSecret, `{"id":"evt_1"}`, fixedNow))
		require.NoError(t, err)
		_, err = v.Verify(ctx, signedRequest(ProviderStripe, stripeSecret, `{"id":"evt_2"}`, fixedNow))
		require.NoError(t, err)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("disabled replay protection is idempotent", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(false))
		req := signedRequest(ProviderStripe, stripeSecret, `{"id":"evt_1"}`, fixedNow)

		for i := 0; i < 3; i++ {
			result, err := v.Verify(ctx, req)
			require.NoError(t, err)
			assert.True(t, result.Valid)
		}
		assert.Zero(t, store.Len())
	})

	t.Run("route override disables replay", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))
		req := signedRequest(ProviderSlack, slackSecret, `{}`, fixedNow)
		req.Replay = &ReplayOverride{Enabled: boolPtr(false)}

		_, err := v.Verify(ctx, req)
		require.NoError(t, err)
		_, err = v.Verify(ctx, req)
		require.NoError(t, err)
		assert.Zero(t, store.Len())
	})

	t.Run("providers without timestamps never record nonces", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))
		req := signedRequest(ProviderGitHub, githubSecret, `{}`, fixedNow)

		_, err := v.Verify(ctx, req)
		require.NoError(t, err)
		_, err = v.Verify(ctx, req)
		require.NoError(t, err)
		assert.Zero(t, store.Len())
	})

	t.Run("invalid signature does not record a nonce", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))
		req := signedRequest(ProviderStripe, "attacker", `{}`, fixedNow)

		_, err := v.Verify(ctx, req)
		assertKind(t, err, KindInvalidSignature)
		assert.Zero(t, store.Len())

		_, err = v.Verify(ctx, signedRequest(ProviderStripe, stripeSecret, `{}`, fixedNow))
		assert.NoError(t, err)
	})
}

func TestVerify_ConcurrentDuplicatesSingleWinner(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(true))
	req := signedRequest(ProviderSlack, slackSecret, `{"type":"event_callback"}`, fixedNow)

	var accepted, replayed int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), req)
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case stderrors.Is(err, ErrReplayAttack):
				atomic.AddInt32(&replayed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	assert.Equal(t, int32(24), replayed)
}

type brokenStore struct{}

func (brokenStore) Seen(context.Context, string) (bool, error) {
	return false, errors.ConnectionError("nonce lookup failed", stderrors.New("connection refused"))
}

func (brokenStore) Record(context.Context, string, time.Time) error {
	return errors.ConnectionError("nonce write failed", stderrors.New("connection refused"))
}

func TestVerify_ReplayStoreUnavailable(t *testing.T) {
	v := NewVerifier(testSettings(true),
		WithGuard(replay.NewGuard(brokenStore{}, time.Minute)),
		WithClock(func() time.Time { return fixedNow }),
	)

	_, err := v.Verify(context.Background(), signedRequest(ProviderStripe, stripeSecret, `{}`, fixedNow))
	assertKind(t, err, KindReplayStoreUnavailable)

	verr, _ := AsVerificationError(err)
	assert.True(t, verr.IsConfigError())
	assert.Equal(t, http.StatusServiceUnavailable, verr.StatusCode())
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestVerify_OrderOfChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("missing secret", func(t *testing.T) {
		v, _ := newTestVerifier(t, Settings{})
		_, err := v.Verify(ctx, signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow))
		assertKind(t, err, KindMissingSecret)
		assert.True(t, stderrors.Is(err, ErrMissingSecret))
	})

	t.Run("custom ignores global secret map", func(t *testing.T) {
		settings := testSettings(false)
		settings.Secrets[ProviderCustom] = "global"
		v, _ := newTestVerifier(t, settings)

		_, err := v.Verify(ctx, &Request{
			RouteOptions: RouteOptions{Provider: ProviderCustom, Custom: &CustomConfig{SignatureHeader: "X-Sig", Algorithm: "sha256"}},
			Body:         []byte("{}"),
			Headers:      headers("X-Sig", hmacSHA256Hex("global", "{}")),
		})
		assertKind(t, err, KindMissingSecret)
	})

	t.Run("missing raw body", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(false))
		req := signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow)
		req.Body = nil

		_, err := v.Verify(ctx, req)
		assertKind(t, err, KindMissingRawBody)
		verr, _ := AsVerificationError(err)
		assert.Equal(t, http.StatusInternalServerError, verr.StatusCode())
	})

	t.Run("empty body is not missing", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(false))
		req := signedRequest(ProviderGitHub, githubSecret, "", fixedNow)
		req.Body = []byte{}

		_, err := v.Verify(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("missing signature header", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(false))
		req := signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow)
		req.Headers.Del("X-Hub-Signature-256")

		_, err := v.Verify(ctx, req)
		assertKind(t, err, KindMissingSignature)
	})

	t.Run("repeated signature header", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(false))
		req := signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow)
		req.Headers.Add("X-Hub-Signature-256", "sha256=00")

		_, err := v.Verify(ctx, req)
		assertKind(t, err, KindMissingSignature)
	})

	t.Run("nil headers", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(false))
		_, err := v.Verify(ctx, &Request{RouteOptions: RouteOptions{Provider: ProviderGitHub}, Body: []byte("{}")})
		assertKind(t, err, KindMissingSignature)
	})
}

func TestVerify_UnknownProvider(t *testing.T) {
	inputs := []*Request{
		{Body: []byte("{}"), Headers: headers("X-Hub-Signature-256", "sha256=00")},
		{Body: []byte{}, Headers: http.Header{}},
		{Body: []byte(`{"type":"x"}`), Headers: headers("Stripe-Signature", "t=1,v1=00")},
	}

	for i, req := range inputs {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(true))
			req.RouteOptions = RouteOptions{Provider: "paypal", Secret: "s"}

			_, err := v.Verify(context.Background(), req)
			assertKind(t, err, KindUnknownProvider)
			assert.True(t, stderrors.Is(err, ErrUnknownProvider))
		})
	}
}

func TestVerify_CustomProvider(t *testing.T) {
	buildPayload := func(body []byte, ts string) string { return ts + "." + string(body) }
	body := `{"event":"order.created"}`
	secs := strconv.FormatInt(fixedNow.Unix(), 10)

	newRequest := func(signingSecret string) *Request {
		return &Request{
			RouteOptions: RouteOptions{
				Provider: ProviderCustom,
				Secret:   "custom-secret",
				Custom: &CustomConfig{
					Name:            "acme",
					SignatureHeader: "X-Acme-Signature",
					TimestampHeader: "X-Acme-Timestamp",
					Algorithm:       "sha256",
					BuildPayload:    buildPayload,
					EventTypeField:  "event",
				},
			},
			Body: []byte(body),
			Headers: headers(
				"X-Acme-Signature", hmacSHA256Hex(signingSecret, secs+"."+body),
				"X-Acme-Timestamp", secs,
			),
		}
	}

	t.Run("valid", func(t *testing.T) {
		v, store := newTestVerifier(t, testSettings(true))
		result, err := v.Verify(context.Background(), newRequest("custom-secret"))
		require.NoError(t, err)

		assert.Equal(t, "acme", result.Provider)
		assert.Equal(t, "order.created", result.EventType)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("different secret", func(t *testing.T) {
		v, _ := newTestVerifier(t, testSettings(true))
		_, err := v.Verify(context.Background(), newRequest("other-secret"))
		assertKind(t, err, KindInvalidSignature)
	})
}

func TestVerify_DecodedBodyIsPreferred(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(false))
	req := signedRequest(ProviderStripe, stripeSecret, `{"type":"from.body"}`, fixedNow)
	req.Decoded = map[string]interface{}{"type": "from.decoded"}

	result, err := v.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "from.decoded", result.EventType)
}

func TestVerify_NonJSONBody(t *testing.T) {
	v, _ := newTestVerifier(t, testSettings(false))
	result, err := v.Verify(context.Background(), signedRequest(ProviderTwilio, twilioSecret, "From=%2B15551234567&Body=hi", fixedNow))
	require.NoError(t, err)
	assert.Empty(t, result.EventType)
}

func TestVerify_OnVerifiedHook(t *testing.T) {
	var calls []*Result
	var fromCtx []*Result
	settings := testSettings(false)
	settings.OnVerified = func(ctx context.Context, r *Result) {
		calls = append(calls, r)
		if attached, ok := ResultFromContext(ctx); ok {
			fromCtx = append(fromCtx, attached)
		}
	}
	v, _ := newTestVerifier(t, settings)

	result, err := v.Verify(context.Background(), signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Same(t, result, calls[0])
	require.Len(t, fromCtx, 1, "hook context must carry the result")
	assert.Same(t, result, fromCtx[0])

	_, err = v.Verify(context.Background(), signedRequest(ProviderGitHub, "bad", "{}", fixedNow))
	require.Error(t, err)
	assert.Len(t, calls, 1, "hook only runs on success")
}

func TestVerify_DefaultGuardIsLazy(t *testing.T) {
	v := NewVerifier(testSettings(true), WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { _ = v.Close() })

	_, err := v.Verify(context.Background(), signedRequest(ProviderGitHub, githubSecret, "{}", fixedNow))
	require.NoError(t, err)
	assert.Nil(t, v.ownedStore, "no timestamp, no guard")

	req := signedRequest(ProviderStripe, stripeSecret, "{}", fixedNow)
	_, err = v.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, v.ownedStore)

	_, err = v.Verify(context.Background(), req)
	assertKind(t, err, KindReplayAttack)

	assert.NoError(t, v.Close())
}

func TestVerify_CloseDuringFirstReplayCheck(t *testing.T) {
	v := NewVerifier(testSettings(true), WithClock(func() time.Time { return fixedNow }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			req := signedRequest(ProviderStripe, stripeSecret, fmt.Sprintf(`{"n":%d}`, i), fixedNow)
			_, err := v.Verify(context.Background(), req)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Close())
		}()
	}
	wg.Wait()

	assert.NoError(t, v.Close())
}

func TestVerify_HeaderLookupIgnoresCase(t *testing.T) {
	body := `{"action":"opened"}`
	secs := strconv.FormatInt(fixedNow.Unix(), 10)
	githubSig := "sha256=" + hmacSHA256Hex(githubSecret, body)
	slackSig := "v0=" + hmacSHA256Hex(slackSecret, "v0:"+secs+":"+body)

	tests := []struct {
		name     string
		provider string
		headers  http.Header
		wantKind Kind
	}{
		{
			name:     "lowercase github signature",
			provider: ProviderGitHub,
			headers:  http.Header{"x-hub-signature-256": {githubSig}},
		},
		{
			name:     "lowercase slack headers",
			provider: ProviderSlack,
			headers: http.Header{
				"x-slack-signature":         {slackSig},
				"x-slack-request-timestamp": {secs},
			},
		},
		{
			name:     "duplicate keys differing in case",
			provider: ProviderGitHub,
			headers: http.Header{
				"X-Hub-Signature-256": {githubSig},
				"x-hub-signature-256": {githubSig},
			},
			wantKind: KindMissingSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVerifier(t, testSettings(true))
			req := &Request{
				RouteOptions: RouteOptions{Provider: tt.provider},
				Body:         []byte(body),
				Headers:      tt.headers,
			}

			_, err := v.Verify(context.Background(), req)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assertKind(t, err, tt.wantKind)
		})
	}
}
