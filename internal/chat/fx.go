package chat

import "go.uber.org/fx"

var Module = fx.Module("chat",
	fx.Provide(ConfigFromApp),
	fx.Provide(NewRelay),
)
