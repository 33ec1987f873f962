package clock

import "go.uber.org/fx"

// Module supplies the wall clock. Tests build services with a *Fixed instead.
var Module = fx.Module("clock",
	fx.Provide(System),
)
