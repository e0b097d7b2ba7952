package invoice

import (
	"github.com/tidewaylabs/tideway/internal/invoice/repository"
	"github.com/tidewaylabs/tideway/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
