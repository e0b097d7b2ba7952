package catalog

import (
	"github.com/tidewaylabs/tideway/internal/catalog/repository"
	"github.com/tidewaylabs/tideway/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
