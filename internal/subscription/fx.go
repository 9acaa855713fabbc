package subscription

import (
	"github.com/inkwellhq/inkwell/internal/subscription/repository"
	"github.com/inkwellhq/inkwell/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
