package credits

import (
	"github.com/smallbiznis/studiobook/internal/credits/repository"
	"github.com/smallbiznis/studiobook/internal/credits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credits",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
