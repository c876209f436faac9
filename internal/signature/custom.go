package signature

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// CustomConfig describes a sender that has no built-in provider. Function
// hooks take precedence over the declarative templates, which exist so routes
// can be defined in a JSON file.
type CustomConfig struct {
	Name            string `json:"name" validate:"required"`
	SignatureHeader string `json:"signature_header" validate:"required,header_name"`
	TimestampHeader string `json:"timestamp_header,omitempty" validate:"omitempty,header_name"`
	Algorithm       string `json:"algorithm" validate:"required,oneof=sha1 sha256 sha512 hmac-sha1 hmac-sha256 hmac-sha512"`
	Encoding        string `json:"encoding,omitempty" validate:"omitempty,oneof=hex base64"`

	// SignatureFormat locates the token in the header, e.g. "sha256=${signature}"
	// or "t=${timestamp},v1=${signature}".
	SignatureFormat string `json:"signature_format,omitempty" validate:"omitempty,signature_format"`
	// PayloadTemplate rebuilds the signed payload, e.g. "${timestamp}.${body}".
	PayloadTemplate string `json:"payload_template,omitempty"`
	// EventTypeField is the top-level body field holding the event label.
	EventTypeField string `json:"event_type_field,omitempty"`

	ExtractSignature func(headerValue string) (string, error)    `json:"-"`
	BuildPayload     func(body []byte, timestamp string) string  `json:"-"`
	ExtractEventType func(decoded map[string]interface{}) string `json:"-"`
}

// NewCustom builds a provider from cfg.
func NewCustom(cfg *CustomConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("custom provider requires configuration")
	}
	if cfg.SignatureHeader == "" {
		return nil, fmt.Errorf("custom provider requires a signature header")
	}

	alg, err := ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	enc, err := ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = ProviderCustom
	}

	p := &Provider{
		Descriptor: Descriptor{
			Name:            name,
			SignatureHeader: strings.ToLower(cfg.SignatureHeader),
			TimestampHeader: strings.ToLower(cfg.TimestampHeader),
			Algorithm:       alg,
			Encoding:        enc,
		},
	}

	var format *headerTemplate
	if cfg.SignatureFormat != "" {
		if format, err = compileHeaderTemplate(cfg.SignatureFormat); err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.ExtractSignature != nil:
		p.extract = cfg.ExtractSignature
	case format != nil:
		p.extract = func(headerValue string) (string, error) {
			values, err := format.match(headerValue)
			if err != nil {
				return "", err
			}
			return values["signature"], nil
		}
	}

	if p.TimestampHeader == "" && format != nil && format.has("timestamp") {
		p.TimestampInSignature = true
		p.timestamp = func(headerValue string) (time.Time, error) {
			values, err := format.match(headerValue)
			if err != nil {
				return time.Time{}, err
			}
			return parseUnixSeconds(values["timestamp"])
		}
	}

	switch {
	case cfg.BuildPayload != nil:
		build := cfg.BuildPayload
		p.payload = func(body []byte, ts string) (string, error) {
			return build(body, ts), nil
		}
	case cfg.PayloadTemplate != "":
		template := cfg.PayloadTemplate
		needsTimestamp := strings.Contains(template, "${timestamp}")
		p.payload = func(body []byte, ts string) (string, error) {
			if needsTimestamp && ts == "" {
				return "", ErrTimestampRequired
			}
			// one pass, so placeholders inside the body are left alone
			return strings.NewReplacer("${timestamp}", ts, "${body}", string(body)).Replace(template), nil
		}
	}

	switch {
	case cfg.ExtractEventType != nil:
		p.eventType = cfg.ExtractEventType
	case cfg.EventTypeField != "":
		p.eventType = stringField(cfg.EventTypeField)
	}

	return p, nil
}

var templateVar = regexp.MustCompile(`\\\$\\\{(\w+)\\\}`)

// headerTemplate matches a header value against a format with ${name} slots.
type headerTemplate struct {
	re    *regexp.Regexp
	names []string
}

func compileHeaderTemplate(format string) (*headerTemplate, error) {
	pattern := regexp.QuoteMeta(format)

	var names []string
	for _, capture := range templateVar.FindAllStringSubmatch(pattern, -1) {
		names = append(names, capture[1])
		pattern = strings.Replace(pattern, capture[0], `([^,\s]+)`, 1)
	}

	if !slices.Contains(names, "signature") {
		return nil, fmt.Errorf("signature format %q has no ${signature} slot", format)
	}

	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid signature format %q: %w", format, err)
	}
	return &headerTemplate{re: re, names: names}, nil
}

func (t *headerTemplate) match(headerValue string) (map[string]string, error) {
	matches := t.re.FindStringSubmatch(headerValue)
	if matches == nil {
		return nil, fmt.Errorf("%w: header does not match format", ErrMalformedHeader)
	}

	values := make(map[string]string, len(t.names))
	for i, name := range t.names {
		values[name] = matches[i+1]
	}
	return values, nil
}

func (t *headerTemplate) has(name string) bool {
	return slices.Contains(t.names, name)
}
