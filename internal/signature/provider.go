package signature

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Descriptor is the immutable wire description of a sender.
type Descriptor struct {
	Name string
	// SignatureHeader is the lower-cased header carrying the signature.
	SignatureHeader string
	// TimestampHeader is set only when the timestamp travels in its own header.
	TimestampHeader string
	// TimestampInSignature marks senders that embed the timestamp in the
	// signature header itself.
	TimestampInSignature bool
	Algorithm            Algorithm
	Encoding             Encoding
}

// Provider is one sender's signing scheme: a descriptor plus the functions
// that parse its headers and rebuild its signed payload. Unset functions fall
// back to the common behaviour.
type Provider struct {
	Descriptor

	extract   func(headerValue string) (string, error)
	timestamp func(headerValue string) (time.Time, error)
	// payload receives the epoch-seconds timestamp, or "" when there is none.
	payload   func(body []byte, timestamp string) (string, error)
	eventType func(decoded map[string]interface{}) string
}

// ExtractSignature returns the bare signature token from the header value.
func (p *Provider) ExtractSignature(headerValue string) (string, error) {
	if p.extract == nil {
		return headerValue, nil
	}
	return p.extract(headerValue)
}

// ParseTimestamp reads the sender timestamp. The default format is integer
// seconds since the epoch.
func (p *Provider) ParseTimestamp(headerValue string) (time.Time, error) {
	if p.timestamp == nil {
		return parseUnixSeconds(headerValue)
	}
	return p.timestamp(headerValue)
}

// ComputeSignature rebuilds the signed payload and returns its encoded HMAC.
func (p *Provider) ComputeSignature(body []byte, secret string, timestamp *time.Time) (string, error) {
	ts := ""
	if timestamp != nil {
		ts = strconv.FormatInt(timestamp.Unix(), 10)
	}

	payload := string(body)
	if p.payload != nil {
		var err error
		if payload, err = p.payload(body, ts); err != nil {
			return "", err
		}
	}

	return Sign(p.Algorithm, p.Encoding, secret, []byte(payload))
}

// ExtractEventType returns the sender's event label from the decoded body,
// or "" when the provider has none.
func (p *Provider) ExtractEventType(decoded map[string]interface{}) string {
	if p.eventType == nil || decoded == nil {
		return ""
	}
	return p.eventType(decoded)
}

func parseUnixSeconds(value string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid unix timestamp %q", ErrMalformedHeader, value)
	}
	return time.Unix(secs, 0), nil
}

func prefixExtractor(prefix string) func(string) (string, error) {
	return func(headerValue string) (string, error) {
		if !strings.HasPrefix(headerValue, prefix) {
			return "", fmt.Errorf("%w: expected %q prefix", ErrMalformedHeader, prefix)
		}
		return strings.TrimPrefix(headerValue, prefix), nil
	}
}

func stringField(field string) func(map[string]interface{}) string {
	return func(decoded map[string]interface{}) string {
		if s, ok := decoded[field].(string); ok {
			return s
		}
		return ""
	}
}
