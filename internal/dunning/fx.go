package dunning

import (
	"github.com/tidewaylabs/tideway/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning.service",
	fx.Provide(service.NewService),
)
