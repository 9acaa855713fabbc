package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidPayload = errors.New("invalid_payload")
	ErrInvalidEvent   = errors.New("invalid_event")
)

// DecodeError reports a recognized event whose nested object could not be
// decoded. It carries the envelope identity so the caller can still record
// the delivery and acknowledge it instead of triggering provider retries.
type DecodeError struct {
	EventID string
	RawType string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.RawType, e.EventID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind is the closed set of event variants the engine understands.
// Payloads are decoded into exactly one variant at the boundary; handlers
// never re-inspect raw JSON or switch on provider type strings.
type Kind string

const (
	KindCheckoutCompleted       Kind = "checkout_completed"
	KindSubscriptionCreated     Kind = "subscription_created"
	KindSubscriptionUpdated     Kind = "subscription_updated"
	KindSubscriptionDeleted     Kind = "subscription_deleted"
	KindInvoicePaymentSucceeded Kind = "invoice_payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice_payment_failed"
	KindUnrecognized            Kind = "unrecognized"
)

// Event is the decoded notification. Exactly one of the variant pointers
// is set for recognized kinds; none for KindUnrecognized.
type Event struct {
	ID         string
	Kind       Kind
	RawType    string
	OccurredAt time.Time

	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession is the subset of a provider checkout object the engine
// needs. UserID and Plan ride in the session metadata the storefront set
// when creating the checkout.
type CheckoutSession struct {
	Ref             string
	Mode            string
	CustomerRef     string
	SubscriptionRef string
	CustomerEmail   string
	AmountTotal     int64
	UserID          snowflake.ID
	Plan            string

	// One-time payment checkouts name the purchased item in metadata.
	ItemID   snowflake.ID
	ItemType string
}

type Subscription struct {
	Ref                string
	Status             string
	CustomerRef        string
	PriceRef           string
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	UserID             snowflake.ID
	Plan               string
}

type Invoice struct {
	Ref             string
	CustomerRef     string
	SubscriptionRef string
	CustomerEmail   string
}

type rawEvent struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Created int64        `json:"created"`
	Data    rawEventData `json:"data"`
}

type rawEventData struct {
	Object json.RawMessage `json:"object"`
}

type rawCheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	AmountTotal     int64  `json:"amount_total"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type rawSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Customer           string `json:"customer"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type rawInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	CustomerEmail string `json:"customer_email"`
}

// Decode parses a verified payload into an Event. Unknown event types
// decode into KindUnrecognized rather than an error, so the dispatcher
// can acknowledge them without retry storms.
func Decode(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	event := &Event{
		ID:         raw.ID,
		RawType:    strings.TrimSpace(raw.Type),
		OccurredAt: unixTime(raw.Created),
	}

	var decodeErr error
	switch event.RawType {
	case "checkout.session.completed":
		event.Kind = KindCheckoutCompleted
		event.Checkout, decodeErr = decodeCheckout(raw.Data.Object)
	case "customer.subscription.created":
		event.Kind = KindSubscriptionCreated
		event.Subscription, decodeErr = decodeSubscription(raw.Data.Object)
	case "customer.subscription.updated":
		event.Kind = KindSubscriptionUpdated
		event.Subscription, decodeErr = decodeSubscription(raw.Data.Object)
	case "customer.subscription.deleted":
		event.Kind = KindSubscriptionDeleted
		event.Subscription, decodeErr = decodeSubscription(raw.Data.Object)
	case "invoice.payment_succeeded":
		event.Kind = KindInvoicePaymentSucceeded
		event.Invoice, decodeErr = decodeInvoice(raw.Data.Object)
	case "invoice.payment_failed":
		event.Kind = KindInvoicePaymentFailed
		event.Invoice, decodeErr = decodeInvoice(raw.Data.Object)
	default:
		event.Kind = KindUnrecognized
	}
	if decodeErr != nil {
		return nil, &DecodeError{EventID: event.ID, RawType: event.RawType, Err: decodeErr}
	}

	return event, nil
}

func decodeCheckout(object json.RawMessage) (*CheckoutSession, error) {
	var raw rawCheckoutSession
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	userID, _ := parseMetadataUserID(raw.Metadata)
	checkout := &CheckoutSession{
		Ref:             raw.ID,
		Mode:            strings.TrimSpace(raw.Mode),
		CustomerRef:     raw.Customer,
		SubscriptionRef: raw.Subscription,
		CustomerEmail:   strings.TrimSpace(raw.CustomerDetails.Email),
		AmountTotal:     raw.AmountTotal,
		UserID:          userID,
		Plan:            strings.TrimSpace(raw.Metadata["plan"]),
		ItemType:        strings.TrimSpace(raw.Metadata["item_type"]),
	}
	if itemID, err := snowflake.ParseString(strings.TrimSpace(raw.Metadata["item_id"])); err == nil {
		checkout.ItemID = itemID
	}
	return checkout, nil
}

func decodeSubscription(object json.RawMessage) (*Subscription, error) {
	var raw rawSubscription
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	userID, _ := parseMetadataUserID(raw.Metadata)
	sub := &Subscription{
		Ref:                raw.ID,
		Status:             strings.TrimSpace(raw.Status),
		CustomerRef:        raw.Customer,
		CancelAtPeriodEnd:  raw.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(raw.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(raw.CurrentPeriodEnd),
		UserID:             userID,
		Plan:               strings.TrimSpace(raw.Metadata["plan"]),
	}
	if raw.CanceledAt > 0 {
		canceledAt := unixTime(raw.CanceledAt)
		sub.CanceledAt = &canceledAt
	}
	if len(raw.Items.Data) > 0 {
		sub.PriceRef = raw.Items.Data[0].Price.ID
	}

	return sub, nil
}

func decodeInvoice(object json.RawMessage) (*Invoice, error) {
	var raw rawInvoice
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidEvent
	}

	return &Invoice{
		Ref:             raw.ID,
		CustomerRef:     raw.Customer,
		SubscriptionRef: raw.Subscription,
		CustomerEmail:   strings.TrimSpace(raw.CustomerEmail),
	}, nil
}

func parseMetadataUserID(metadata map[string]string) (snowflake.ID, error) {
	value := strings.TrimSpace(metadata["user_id"])
	if value == "" {
		return 0, ErrInvalidEvent
	}
	id, err := snowflake.ParseString(value)
	if err != nil {
		return 0, ErrInvalidEvent
	}
	return id, nil
}

func unixTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
