package reconciler

import (
	"github.com/tidewaylabs/tideway/internal/reconciler/repository"
	"github.com/tidewaylabs/tideway/internal/reconciler/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciler.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
