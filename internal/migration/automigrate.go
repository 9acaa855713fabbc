package migration

import (
	discountdomain "github.com/inkwellhq/inkwell/internal/discount/domain"
	purchasedomain "github.com/inkwellhq/inkwell/internal/purchase/domain"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	webhookeventdomain "github.com/inkwellhq/inkwell/internal/webhookevent/domain"
	"gorm.io/gorm"
)

// AutoMigrate syncs the schema from the gorm models. Tests use it against
// in-memory sqlite; the versioned SQL stays authoritative for postgres.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&webhookeventdomain.WebhookEvent{},
		&purchasedomain.Purchase{},
		&purchasedomain.AnalyticsEvent{},
		&discountdomain.ManualDiscount{},
	)
}
