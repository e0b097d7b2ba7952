package usage

import (
	"github.com/tidewaylabs/tideway/internal/usage/repository"
	"github.com/tidewaylabs/tideway/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
