// Package webhook routes verified provider notifications through the
// event ledger to the subscription lifecycle handlers.
//
// Retry policy, by error category: transient failures (store errors,
// subscription not yet visible because deliveries arrived out of order,
// a concurrent delivery of the same event id still in flight) are
// recorded on the ledger row and re-raised so the provider redelivers;
// permanently unprocessable input (unrecognized event types, recognized
// events missing required metadata or carrying a malformed object) is
// recorded, acknowledged and marked processed so it does not retry
// forever.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/billing/provider"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/notification"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	purchasedomain "github.com/inkwellhq/inkwell/internal/purchase/domain"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	webhookeventdomain "github.com/inkwellhq/inkwell/internal/webhookevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrEventUnprocessable marks input that will never succeed no matter how
// often the provider redelivers it.
var ErrEventUnprocessable = errors.New("event_unprocessable")

// staleClaimAfter bounds how long a crashed delivery can hold its ledger
// claim before a redelivery is allowed to take it over.
const staleClaimAfter = 5 * time.Minute

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Cfg         config.Config
	Clock       clock.Clock
	Repo        webhookeventdomain.Repository
	SubSvc      subscriptiondomain.Service
	PurchaseSvc purchasedomain.Service
	Notifier    notification.Notifier
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	providerTag string
	verifier    *provider.Verifier
	clock       clock.Clock
	repo        webhookeventdomain.Repository
	subSvc      subscriptiondomain.Service
	purchaseSvc purchasedomain.Service
	notifier    notification.Notifier
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	tolerance := time.Duration(p.Cfg.Billing.SignatureToleranceSeconds) * time.Second
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billing.webhook"),
		genID:       p.GenID,
		providerTag: p.Cfg.Billing.Provider,
		verifier:    provider.NewVerifier(p.Cfg.Billing.WebhookSecret, tolerance, p.Clock),
		clock:       p.Clock,
		repo:        p.Repo,
		subSvc:      p.SubSvc,
		purchaseSvc: p.PurchaseSvc,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// intent is an email queued behind a successful commit. It is sent only
// on the delivery that first processes the event, never on replays.
type intent struct {
	to   string
	tmpl notification.TemplateType
	data map[string]any
}

func (s *Service) Ingest(ctx context.Context, payload []byte, sigHeader string) error {
	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		return err
	}

	event, err := provider.Decode(payload)
	if err != nil {
		var decodeErr *provider.DecodeError
		if errors.As(err, &decodeErr) {
			return s.acknowledgeMalformed(ctx, payload, decodeErr)
		}
		return err
	}

	now := s.clock.Now().UTC()
	record, err := s.claimLedgerRow(ctx, event.ID, event.RawType, payload, now)
	if err != nil {
		if errors.Is(err, webhookeventdomain.ErrEventAlreadyProcessed) {
			// Idempotent short-circuit: the same external event id never
			// applies a second mutation.
			s.metrics.RecordWebhookDeduplicated()
			return nil
		}
		return err
	}

	note, handleErr := s.route(ctx, event)
	if handleErr != nil {
		if errors.Is(handleErr, ErrEventUnprocessable) {
			s.log.Warn("webhook event unprocessable",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.RawType),
				zap.Error(handleErr),
			)
			return s.repo.MarkProcessed(ctx, s.db, record.ID, now)
		}

		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, handleErr.Error()); markErr != nil {
			s.log.Error("failed to record webhook failure", zap.Error(markErr))
		}
		s.metrics.RecordWebhookFailed(event.RawType)
		return handleErr
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, now); err != nil {
		return err
	}
	s.metrics.RecordWebhookEvent(event.RawType)

	// Email is best-effort and outside the transaction: a failed send is
	// logged and swallowed, it never fails the webhook response.
	if note != nil {
		if err := s.notifier.Send(ctx, note.to, note.tmpl, note.data); err != nil {
			s.log.Warn("notification failed",
				zap.String("template", string(note.tmpl)),
				zap.Error(err),
			)
		}
	}

	return nil
}

// claimLedgerRow inserts the ledger row already claimed, or claims the
// existing row on a redelivery. Exactly one concurrent delivery per event
// id gets a row back; the rest see ErrEventAlreadyProcessed or
// ErrEventInFlight.
func (s *Service) claimLedgerRow(ctx context.Context, eventID, eventType string, payload []byte, now time.Time) (*webhookeventdomain.WebhookEvent, error) {
	record := &webhookeventdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		Provider:   s.providerTag,
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		ClaimedAt:  &now,
		ReceivedAt: now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}
	return s.repo.Claim(ctx, s.db, s.providerTag, eventID, now, now.Add(-staleClaimAfter))
}

// acknowledgeMalformed records a recognized event whose object cannot be
// decoded and acknowledges it: no amount of redelivery fixes a malformed
// payload, but the raw bytes stay on the ledger for inspection.
func (s *Service) acknowledgeMalformed(ctx context.Context, payload []byte, decodeErr *provider.DecodeError) error {
	now := s.clock.Now().UTC()
	record, err := s.claimLedgerRow(ctx, decodeErr.EventID, decodeErr.RawType, payload, now)
	if err != nil {
		if errors.Is(err, webhookeventdomain.ErrEventAlreadyProcessed) {
			s.metrics.RecordWebhookDeduplicated()
			return nil
		}
		return err
	}

	s.log.Warn("webhook payload malformed",
		zap.String("event_id", decodeErr.EventID),
		zap.String("event_type", decodeErr.RawType),
		zap.Error(decodeErr),
	)
	return s.repo.MarkProcessed(ctx, s.db, record.ID, now)
}

func (s *Service) route(ctx context.Context, event *provider.Event) (*intent, error) {
	switch event.Kind {
	case provider.KindCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event.Checkout)
	case provider.KindSubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, event.Subscription)
	case provider.KindSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event.Subscription)
	case provider.KindSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event.Subscription)
	case provider.KindInvoicePaymentSucceeded:
		return s.handleInvoicePaymentSucceeded(ctx, event.Invoice)
	case provider.KindInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, event.Invoice)
	case provider.KindUnrecognized:
		s.log.Info("ignoring unrecognized webhook event type",
			zap.String("event_type", event.RawType),
		)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unhandled kind %q", ErrEventUnprocessable, event.Kind)
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, checkout *provider.CheckoutSession) (*intent, error) {
	if checkout == nil {
		return nil, fmt.Errorf("%w: missing checkout object", ErrEventUnprocessable)
	}

	if checkout.Mode == "payment" {
		return s.recordOneTimePurchase(ctx, checkout)
	}

	if checkout.UserID == 0 || checkout.Plan == "" {
		return nil, fmt.Errorf("%w: checkout session missing user_id/plan metadata", ErrEventUnprocessable)
	}

	sub, err := s.subSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
		UserID:                  checkout.UserID,
		Plan:                    checkout.Plan,
		Email:                   checkout.CustomerEmail,
		ExternalCustomerRef:     checkout.CustomerRef,
		ExternalSubscriptionRef: checkout.SubscriptionRef,
	})
	if err != nil {
		return nil, err
	}

	return &intent{
		to:   sub.Email,
		tmpl: notification.TemplateWelcome,
		data: map[string]any{"plan": sub.Plan},
	}, nil
}

// recordOneTimePurchase handles payment-mode checkouts: one-off content
// purchases that never touch subscription state.
func (s *Service) recordOneTimePurchase(ctx context.Context, checkout *provider.CheckoutSession) (*intent, error) {
	if checkout.ItemID == 0 || checkout.ItemType == "" {
		return nil, fmt.Errorf("%w: payment checkout missing item metadata", ErrEventUnprocessable)
	}

	req := purchasedomain.RecordPurchaseRequest{
		Type:               subscriptiondomain.ItemType(checkout.ItemType),
		ItemID:             checkout.ItemID,
		BasePrice:          checkout.AmountTotal,
		PricePaid:          checkout.AmountTotal,
		PaymentMethod:      "card",
		ExternalPaymentRef: checkout.Ref,
		Funding:            subscriptiondomain.FundingNone,
	}
	if checkout.UserID != 0 {
		userID := checkout.UserID
		req.UserID = &userID
	} else {
		req.SessionID = checkout.Ref
	}

	if _, err := s.purchaseSvc.RecordPurchase(ctx, req); err != nil {
		if errors.Is(err, purchasedomain.ErrInvalidRequest) || errors.Is(err, purchasedomain.ErrMissingOwner) {
			return nil, fmt.Errorf("%w: %v", ErrEventUnprocessable, err)
		}
		return nil, err
	}
	return nil, nil
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, sub *provider.Subscription) (*intent, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: missing subscription object", ErrEventUnprocessable)
	}

	// The row normally exists already, created by checkout-completed.
	// Deliveries can arrive out of order though, so fall back to creating
	// it when the metadata names the user.
	_, err := s.subSvc.ApplyProviderUpdate(ctx, providerUpdate(sub))
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) && sub.UserID != 0 && sub.Plan != "" {
		_, err = s.subSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			UserID:                  sub.UserID,
			Plan:                    sub.Plan,
			ExternalCustomerRef:     sub.CustomerRef,
			ExternalSubscriptionRef: sub.Ref,
			ExternalPriceRef:        sub.PriceRef,
			PeriodStart:             sub.CurrentPeriodStart,
			PeriodEnd:               sub.CurrentPeriodEnd,
		})
	}
	return nil, err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, sub *provider.Subscription) (*intent, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: missing subscription object", ErrEventUnprocessable)
	}

	outcome, err := s.subSvc.ApplyProviderUpdate(ctx, providerUpdate(sub))
	if err != nil {
		return nil, err
	}
	if outcome.Reactivated && outcome.Subscription.Email != "" {
		return &intent{
			to:   outcome.Subscription.Email,
			tmpl: notification.TemplateReactivated,
			data: map[string]any{"plan": outcome.Subscription.Plan},
		}, nil
	}
	return nil, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, sub *provider.Subscription) (*intent, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: missing subscription object", ErrEventUnprocessable)
	}

	cancelled, err := s.subSvc.MarkCancelled(ctx, sub.Ref)
	if err != nil {
		return nil, err
	}
	if cancelled.Email == "" {
		return nil, nil
	}
	return &intent{
		to:   cancelled.Email,
		tmpl: notification.TemplateCancelled,
		data: map[string]any{"plan": cancelled.Plan},
	}, nil
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, invoice *provider.Invoice) (*intent, error) {
	if invoice == nil {
		return nil, fmt.Errorf("%w: missing invoice object", ErrEventUnprocessable)
	}

	// Confirmation only, no state transition: subscription-updated owns
	// status changes, which keeps the two event streams from racing.
	to := invoice.CustomerEmail
	if to == "" && invoice.SubscriptionRef != "" {
		if sub, err := s.subSvc.GetByExternalRef(ctx, invoice.SubscriptionRef); err == nil && sub != nil {
			to = sub.Email
		}
	}
	if to == "" {
		return nil, nil
	}
	return &intent{to: to, tmpl: notification.TemplatePaymentOK, data: map[string]any{}}, nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, invoice *provider.Invoice) (*intent, error) {
	if invoice == nil {
		return nil, fmt.Errorf("%w: missing invoice object", ErrEventUnprocessable)
	}

	sub, err := s.subSvc.MarkPastDue(ctx, invoice.SubscriptionRef)
	if err != nil {
		return nil, err
	}

	to := invoice.CustomerEmail
	if to == "" {
		to = sub.Email
	}
	if to == "" {
		return nil, nil
	}
	return &intent{to: to, tmpl: notification.TemplatePaymentFailed, data: map[string]any{}}, nil
}

func providerUpdate(sub *provider.Subscription) subscriptiondomain.ProviderUpdate {
	return subscriptiondomain.ProviderUpdate{
		ExternalSubscriptionRef: sub.Ref,
		ProviderStatus:          sub.Status,
		PeriodStart:             sub.CurrentPeriodStart,
		PeriodEnd:               sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd,
		CanceledAt:              sub.CanceledAt,
	}
}
