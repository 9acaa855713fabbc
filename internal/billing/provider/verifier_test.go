package provider

import (
	"testing"
	"time"

	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	header := Sign("whsec_test", payload, now)

	require.NoError(t, verifier.Verify(payload, header))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	payload := []byte(`{"id":"evt_1"}`)
	header := Sign("whsec_test", payload, now)

	err := verifier.Verify([]byte(`{"id":"evt_2"}`), header)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	payload := []byte(`{"id":"evt_1"}`)
	header := Sign("whsec_other", payload, now)

	require.ErrorIs(t, verifier.Verify(payload, header), ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	payload := []byte(`{"id":"evt_1"}`)
	header := Sign("whsec_test", payload, now.Add(-10*time.Minute))

	require.ErrorIs(t, verifier.Verify(payload, header), ErrInvalidSignature)
}

func TestVerifyAcceptsWithinTolerance(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	payload := []byte(`{"id":"evt_1"}`)
	header := Sign("whsec_test", payload, now.Add(-4*time.Minute))

	require.NoError(t, verifier.Verify(payload, header))
}

func TestVerifyMissingHeader(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	require.ErrorIs(t, verifier.Verify([]byte(`{}`), ""), ErrMissingSignature)
}

func TestVerifyMalformedHeader(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	verifier := NewVerifier("whsec_test", 5*time.Minute, clk)

	for _, header := range []string{"garbage", "t=123", "v1=deadbeef", "t=,v1="} {
		require.ErrorIs(t, verifier.Verify([]byte(`{}`), header), ErrInvalidSignature, header)
	}
}
