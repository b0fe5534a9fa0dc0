package waitlist

import (
	"github.com/smallbiznis/studiobook/internal/waitlist/repository"
	"github.com/smallbiznis/studiobook/internal/waitlist/service"
	"go.uber.org/fx"
)

var Module = fx.Module("waitlist",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
