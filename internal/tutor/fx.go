package tutor

import (
	"github.com/learnify/learnify/internal/tutor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tutor",
	fx.Provide(service.NewService),
)
