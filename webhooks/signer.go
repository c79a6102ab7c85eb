package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

// HMACSigner signs "<unix timestamp>.<payload>" with HMAC-SHA256 so
// receivers can authenticate deliveries and reject stale replays.
type HMACSigner struct {
	Secret   string
	Encoding string // hex | base64
}

func (s HMACSigner) Sign(payload []byte, at time.Time) (map[string]string, error) {
	secret := strings.TrimSpace(s.Secret)
	if secret == "" {
		return nil, fmt.Errorf("webhooks: signing secret is required")
	}
	timestamp := strconv.FormatInt(at.UTC().Unix(), 10)
	digest := signatureDigest(secret, timestamp, payload)
	return map[string]string{
		HeaderSignature: signaturePrefix + encodeSignature(digest, s.Encoding),
		HeaderTimestamp: timestamp,
	}, nil
}

// HMACVerifier is the receiver side of HMACSigner.
type HMACVerifier struct {
	Secret    string
	Encoding  string // hex | base64
	Tolerance time.Duration
	Now       func() time.Time
}

func (v HMACVerifier) Verify(headers map[string]string, body []byte) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	header := headerValue(headers, HeaderSignature)
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", HeaderSignature)
	}
	timestamp := headerValue(headers, HeaderTimestamp)
	if timestamp == "" {
		return fmt.Errorf("webhooks: %s header is required", HeaderTimestamp)
	}
	if v.Tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("webhooks: invalid signature timestamp: %w", err)
		}
		now := time.Now().UTC()
		if v.Now != nil {
			now = v.Now().UTC()
		}
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.Tolerance {
			return fmt.Errorf("webhooks: signature timestamp outside tolerance")
		}
	}

	signature := strings.TrimSpace(strings.TrimPrefix(header, signaturePrefix))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}
	expected := signatureDigest(secret, timestamp, body)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
	default:
		decoded, err = hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

func signatureDigest(secret string, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSignature(digest []byte, encoding string) string {
	if strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return base64.StdEncoding.EncodeToString(digest)
	}
	return hex.EncodeToString(digest)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.PayloadSigner = HMACSigner{}
