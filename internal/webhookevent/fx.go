package webhookevent

import (
	"github.com/inkwellhq/inkwell/internal/webhookevent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("webhookevent",
	fx.Provide(repository.Provide),
)
