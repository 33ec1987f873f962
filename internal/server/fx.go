package server

import (
	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/chat"
	"github.com/smallbiznis/companion/internal/entitlement"
	"github.com/smallbiznis/companion/internal/speech"
	"go.uber.org/fx"
)

// Module binds the concrete services to the interfaces the handlers use and
// starts the HTTP listener.
var Module = fx.Module("server",
	fx.Provide(func(a *auth.Authenticator) Authenticator { return a }),
	fx.Provide(func(d *auth.Directory) UserMirror { return d }),
	fx.Provide(func(s *entitlement.Service) PlanReader { return s }),
	fx.Provide(func(r *chat.Relay) ChatRelay { return r }),
	fx.Provide(func(c *speech.Client) Synthesizer { return c }),
	fx.Provide(func(s auditdomain.Service) AuditReader { return s }),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
	}),
	fx.Invoke(RunHTTP),
)
