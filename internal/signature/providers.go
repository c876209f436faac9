package signature

import (
	"fmt"
	"strings"
	"time"
)

// Built-in provider identifiers.
const (
	ProviderStripe  = "stripe"
	ProviderGitHub  = "github"
	ProviderSlack   = "slack"
	ProviderShopify = "shopify"
	ProviderTwilio  = "twilio"
	ProviderCustom  = "custom"
)

// Stripe signs "{t}.{body}" and sends "t=<secs>,v1=<hex>" in one header.
func Stripe() *Provider {
	return &Provider{
		Descriptor: Descriptor{
			Name:                 ProviderStripe,
			SignatureHeader:      "stripe-signature",
			TimestampInSignature: true,
			Algorithm:            SHA256,
			Encoding:             Hex,
		},
		extract: func(headerValue string) (string, error) {
			if v, ok := stripeField(headerValue, "v1"); ok {
				return v, nil
			}
			return "", fmt.Errorf("%w: no v1 signature", ErrMalformedHeader)
		},
		timestamp: func(headerValue string) (time.Time, error) {
			t, ok := stripeField(headerValue, "t")
			if !ok {
				return time.Time{}, fmt.Errorf("%w: no t= timestamp", ErrMalformedHeader)
			}
			return parseUnixSeconds(t)
		},
		payload: func(body []byte, ts string) (string, error) {
			if ts == "" {
				return "", ErrTimestampRequired
			}
			return ts + "." + string(body), nil
		},
		eventType: stringField("type"),
	}
}

// stripeField returns the first value for key in a "k=v,k=v" header.
func stripeField(headerValue, key string) (string, bool) {
	for _, part := range strings.Split(headerValue, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && k == key && v != "" {
			return v, true
		}
	}
	return "", false
}

// GitHub signs the raw body and sends "sha256=<hex>". The event name lives in
// X-GitHub-Event, not the body.
func GitHub() *Provider {
	return &Provider{
		Descriptor: Descriptor{
			Name:            ProviderGitHub,
			SignatureHeader: "x-hub-signature-256",
			Algorithm:       SHA256,
			Encoding:        Hex,
		},
		extract: prefixExtractor("sha256="),
	}
}

// Slack signs "v0:{t}:{body}" with the timestamp in its own header.
func Slack() *Provider {
	return &Provider{
		Descriptor: Descriptor{
			Name:            ProviderSlack,
			SignatureHeader: "x-slack-signature",
			TimestampHeader: "x-slack-request-timestamp",
			Algorithm:       SHA256,
			Encoding:        Hex,
		},
		extract: prefixExtractor("v0="),
		payload: func(body []byte, ts string) (string, error) {
			if ts == "" {
				return "", ErrTimestampRequired
			}
			return "v0:" + ts + ":" + string(body), nil
		},
		eventType: stringField("type"),
	}
}

// Shopify signs the raw body and sends the base64 digest verbatim. The topic
// lives in X-Shopify-Topic, not the body.
func Shopify() *Provider {
	return &Provider{
		Descriptor: Descriptor{
			Name:            ProviderShopify,
			SignatureHeader: "x-shopify-hmac-sha256",
			Algorithm:       SHA256,
			Encoding:        Base64,
		},
	}
}

// Twilio is verified as HMAC-SHA1 over the raw body. Twilio itself signs the
// full URL followed by the sorted form parameters, so form-encoded callbacks
// will not verify with this scheme.
func Twilio() *Provider {
	return &Provider{
		Descriptor: Descriptor{
			Name:            ProviderTwilio,
			SignatureHeader: "x-twilio-signature",
			Algorithm:       SHA1,
			Encoding:        Base64,
		},
	}
}
