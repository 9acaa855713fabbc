// Package notification is the outbound email gateway. Sends are
// best-effort side effects of committed state transitions: callers log
// and swallow failures, a lost email never fails or retries a webhook.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/inkwellhq/inkwell/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TemplateType string

const (
	TemplateWelcome       TemplateType = "welcome"
	TemplatePaymentFailed TemplateType = "payment_failed"
	TemplatePaymentOK     TemplateType = "payment_succeeded"
	TemplateCancelled     TemplateType = "subscription_cancelled"
	TemplateReactivated   TemplateType = "subscription_reactivated"
)

type Notifier interface {
	Send(ctx context.Context, to string, tmpl TemplateType, data map[string]any) error
}

type gateway struct {
	provider email.Provider
	log      *zap.Logger
}

type Params struct {
	fx.In

	Provider email.Provider
	Log      *zap.Logger
}

func NewGateway(p Params) Notifier {
	return &gateway{
		provider: p.Provider,
		log:      p.Log.Named("notification.gateway"),
	}
}

func (g *gateway) Send(ctx context.Context, to string, tmpl TemplateType, data map[string]any) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("notification: empty recipient")
	}

	t, ok := templates[tmpl]
	if !ok {
		return fmt.Errorf("notification: unknown template %q", tmpl)
	}

	var body bytes.Buffer
	if err := t.body.Execute(&body, data); err != nil {
		return fmt.Errorf("notification: render %q: %w", tmpl, err)
	}

	if err := g.provider.Send(ctx, []string{to}, t.subject, body.String()); err != nil {
		return err
	}

	g.log.Debug("notification sent",
		zap.String("template", string(tmpl)),
	)
	return nil
}

type templateDef struct {
	subject string
	body    *template.Template
}

var templates = map[TemplateType]templateDef{
	TemplateWelcome: {
		subject: "Welcome to Inkwell",
		body: template.Must(template.New("welcome").Parse(
			`<p>Your {{.plan}} subscription is active. Enjoy your monthly quizzes and articles.</p>`)),
	},
	TemplatePaymentFailed: {
		subject: "We couldn't process your payment",
		body: template.Must(template.New("payment_failed").Parse(
			`<p>Your latest payment failed. Please update your payment method to keep your subscription active.</p>`)),
	},
	TemplatePaymentOK: {
		subject: "Payment received",
		body: template.Must(template.New("payment_succeeded").Parse(
			`<p>Thanks! Your subscription payment went through.</p>`)),
	},
	TemplateCancelled: {
		subject: "Your subscription has ended",
		body: template.Must(template.New("subscription_cancelled").Parse(
			`<p>Your subscription is now cancelled. You can re-subscribe any time.</p>`)),
	},
	TemplateReactivated: {
		subject: "Welcome back",
		body: template.Must(template.New("subscription_reactivated").Parse(
			`<p>Your pending cancellation was revoked and your subscription stays active.</p>`)),
	},
}

var Module = fx.Module("notification",
	fx.Provide(NewGateway),
)
