package subject

import (
	"github.com/learnify/learnify/internal/subject/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subject",
	fx.Provide(service.NewService),
)
