package tax

import (
	"github.com/tidewaylabs/tideway/internal/tax/repository"
	"github.com/tidewaylabs/tideway/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewResolver),
)
