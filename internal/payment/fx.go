package payment

import (
	"github.com/learnify/learnify/internal/payment/adapters"
	"github.com/learnify/learnify/internal/payment/adapters/paypal"
	"github.com/learnify/learnify/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		func() *adapters.Registry {
			return adapters.NewRegistry(paypal.NewFactory())
		},
		webhook.NewService,
	),
)
