package study

import (
	"github.com/learnify/learnify/internal/study/service"
	"go.uber.org/fx"
)

var Module = fx.Module("study",
	fx.Provide(service.NewService),
)
