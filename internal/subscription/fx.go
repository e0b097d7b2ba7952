package subscription

import (
	"github.com/tidewaylabs/tideway/internal/subscription/repository"
	"github.com/tidewaylabs/tideway/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
