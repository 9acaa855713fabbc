package discount

import (
	"github.com/inkwellhq/inkwell/internal/discount/repository"
	"github.com/inkwellhq/inkwell/internal/discount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("discount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
