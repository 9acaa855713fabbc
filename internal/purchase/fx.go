package purchase

import (
	"github.com/inkwellhq/inkwell/internal/purchase/repository"
	"github.com/inkwellhq/inkwell/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
