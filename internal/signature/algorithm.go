package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm is the hash underlying a provider's HMAC.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Encoding is how a signature token is written on the wire.
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

// ParseAlgorithm accepts "sha256" as well as the "hmac-sha256" spelling.
func ParseAlgorithm(s string) (Algorithm, error) {
	alg := Algorithm(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "hmac-"))
	switch alg {
	case SHA1, SHA256, SHA512:
		return alg, nil
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", s)
	}
}

// ParseEncoding defaults to hex when s is empty.
func ParseEncoding(s string) (Encoding, error) {
	enc := Encoding(strings.ToLower(strings.TrimSpace(s)))
	switch enc {
	case "":
		return Hex, nil
	case Hex, Base64:
		return enc, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", s)
	}
}

func (a Algorithm) hash() (func() hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", a)
	}
}

// Sign returns the encoded HMAC of payload under secret.
func Sign(alg Algorithm, enc Encoding, secret string, payload []byte) (string, error) {
	newHash, err := alg.hash()
	if err != nil {
		return "", err
	}

	h := hmac.New(newHash, []byte(secret))
	h.Write(payload)
	sum := h.Sum(nil)

	switch enc {
	case Hex:
		return hex.EncodeToString(sum), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", enc)
	}
}

func decode(token string, enc Encoding) ([]byte, error) {
	switch enc {
	case Hex:
		return hex.DecodeString(token)
	case Base64:
		return base64.StdEncoding.DecodeString(token)
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", enc)
	}
}
