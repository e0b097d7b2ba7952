package payment

import (
	"github.com/tidewaylabs/tideway/internal/config"
	"github.com/tidewaylabs/tideway/internal/payment/adapters/stripe"
	"github.com/tidewaylabs/tideway/internal/payment/domain"
	"github.com/tidewaylabs/tideway/internal/payment/repository"
	"github.com/tidewaylabs/tideway/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(NewProcessor),
	fx.Provide(NewWebhookAdapter),
	fx.Provide(service.NewCollector),
	fx.Provide(service.NewInstruments),
)

func NewProcessor(cfg config.Config) domain.Processor {
	return stripe.NewAdapter(adapterConfig(cfg))
}

func NewWebhookAdapter(cfg config.Config) domain.WebhookAdapter {
	return stripe.NewAdapter(adapterConfig(cfg))
}

func adapterConfig(cfg config.Config) domain.AdapterConfig {
	return domain.AdapterConfig{
		APIKey:        cfg.Processor.APIKey,
		WebhookSecret: cfg.Processor.WebhookSecret,
		BaseURL:       cfg.Processor.BaseURL,
	}
}
