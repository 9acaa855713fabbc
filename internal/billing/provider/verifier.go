// Package provider is the trust boundary with the billing provider:
// signature verification and one-shot decoding of webhook payloads into a
// closed set of event kinds.
package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inkwellhq/inkwell/internal/clock"
)

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// Verifier checks the provider's HMAC-SHA256 signature over
// "<timestamp>.<body>". Verification fails closed: a delivery without a
// valid signature is rejected before any state change so the provider
// retries it later.
type Verifier struct {
	secret    string
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secret string, tolerance time.Duration, clk clock.Clock) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
		clock:     clk,
	}
}

func (v *Verifier) Verify(payload []byte, sigHeader string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" {
		return ErrMissingSignature
	}
	if v.secret == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	if v.tolerance > 0 {
		issued, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		age := v.clock.Now().UTC().Sub(time.Unix(issued, 0).UTC())
		if age > v.tolerance || age < -v.tolerance {
			return ErrInvalidSignature
		}
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// Sign produces a signature header for the given payload, used by tests
// and by the local webhook replay tool.
func Sign(secret string, payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.UTC().Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, computeSignature(secret, timestamp, payload))
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}
