package speech

import "go.uber.org/fx"

var Module = fx.Module("speech",
	fx.Provide(NewClient),
)
