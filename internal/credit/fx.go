package credit

import (
	"github.com/learnify/learnify/internal/credit/repository"
	"github.com/learnify/learnify/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
