package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeSubscriptionCheckout(t *testing.T) {
	payload := []byte(`{
		"id": "evt_check_1",
		"type": "checkout.session.completed",
		"created": 1741608000,
		"data": {"object": {
			"id": "cs_test_1",
			"mode": "subscription",
			"customer": "cus_1",
			"subscription": "sub_1",
			"amount_total": 999,
			"customer_details": {"email": "reader@example.com"},
			"metadata": {"user_id": "7201", "plan": "standard"}
		}}
	}`)

	event, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindCheckoutCompleted, event.Kind)
	require.Equal(t, "evt_check_1", event.ID)
	require.Equal(t, time.Unix(1741608000, 0).UTC(), event.OccurredAt)

	require.NotNil(t, event.Checkout)
	require.Equal(t, "cs_test_1", event.Checkout.Ref)
	require.Equal(t, "subscription", event.Checkout.Mode)
	require.Equal(t, "sub_1", event.Checkout.SubscriptionRef)
	require.Equal(t, "reader@example.com", event.Checkout.CustomerEmail)
	require.Equal(t, int64(7201), int64(event.Checkout.UserID))
	require.Equal(t, "standard", event.Checkout.Plan)
}

func TestDecodePaymentCheckoutCarriesItemMetadata(t *testing.T) {
	payload := []byte(`{
		"id": "evt_check_2",
		"type": "checkout.session.completed",
		"created": 1741608000,
		"data": {"object": {
			"id": "cs_test_2",
			"mode": "payment",
			"amount_total": 4500,
			"metadata": {"item_id": "9001", "item_type": "quiz"}
		}}
	}`)

	event, err := Decode(payload)
	require.NoError(t, err)
	require.NotNil(t, event.Checkout)
	require.Equal(t, "payment", event.Checkout.Mode)
	require.Equal(t, int64(4500), event.Checkout.AmountTotal)
	require.Equal(t, int64(9001), int64(event.Checkout.ItemID))
	require.Equal(t, "quiz", event.Checkout.ItemType)
}

func TestDecodeSubscriptionUpdated(t *testing.T) {
	payload := []byte(`{
		"id": "evt_sub_1",
		"type": "customer.subscription.updated",
		"created": 1741608000,
		"data": {"object": {
			"id": "sub_1",
			"status": "active",
			"customer": "cus_1",
			"cancel_at_period_end": true,
			"canceled_at": 1741600000,
			"current_period_start": 1741000000,
			"current_period_end": 1743600000,
			"items": {"data": [{"price": {"id": "price_1"}}]},
			"metadata": {"user_id": "7201", "plan": "premium"}
		}}
	}`)

	event, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindSubscriptionUpdated, event.Kind)

	sub := event.Subscription
	require.NotNil(t, sub)
	require.Equal(t, "sub_1", sub.Ref)
	require.Equal(t, "active", sub.Status)
	require.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CanceledAt)
	require.Equal(t, "price_1", sub.PriceRef)
	require.Equal(t, time.Unix(1741000000, 0).UTC(), sub.CurrentPeriodStart)
	require.Equal(t, "premium", sub.Plan)
}

func TestDecodeInvoicePaymentFailed(t *testing.T) {
	payload := []byte(`{
		"id": "evt_inv_1",
		"type": "invoice.payment_failed",
		"created": 1741608000,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"subscription": "sub_1",
			"customer_email": "reader@example.com"
		}}
	}`)

	event, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindInvoicePaymentFailed, event.Kind)
	require.NotNil(t, event.Invoice)
	require.Equal(t, "sub_1", event.Invoice.SubscriptionRef)
	require.Equal(t, "reader@example.com", event.Invoice.CustomerEmail)
}

func TestDecodeUnknownTypeIsUnrecognized(t *testing.T) {
	payload := []byte(`{"id": "evt_x", "type": "customer.updated", "data": {"object": {}}}`)

	event, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindUnrecognized, event.Kind)
	require.Equal(t, "customer.updated", event.RawType)
	require.Nil(t, event.Checkout)
	require.Nil(t, event.Subscription)
	require.Nil(t, event.Invoice)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeMissingEventID(t *testing.T) {
	_, err := Decode([]byte(`{"type": "invoice.payment_failed", "data": {"object": {"id": "in_1"}}}`))
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDecodeMalformedObjectCarriesEnvelopeIdentity(t *testing.T) {
	// A recognized type whose object cannot be decoded keeps the envelope
	// id and type so the delivery can still be recorded and acknowledged.
	cases := map[string]string{
		"object not json object": `{"id": "evt_1", "type": "invoice.payment_failed", "data": {"object": 42}}`,
		"object missing id":      `{"id": "evt_1", "type": "customer.subscription.updated", "data": {"object": {"status": "active"}}}`,
		"checkout missing id":    `{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"mode": "subscription"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			require.Equal(t, "evt_1", decodeErr.EventID)
			require.NotEmpty(t, decodeErr.RawType)
		})
	}
}
