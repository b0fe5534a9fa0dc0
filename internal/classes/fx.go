package classes

import (
	"github.com/smallbiznis/studiobook/internal/classes/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("classes",
	fx.Provide(repository.Provide),
)
