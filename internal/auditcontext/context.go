// Package auditcontext carries where a request came from so audit rows can
// name the actor without every service taking it as an argument.
package auditcontext

import "context"

// Origin describes the caller behind a state change.
type Origin struct {
	RequestID string
	ActorType string
	ActorID   string
	IPAddress string
	UserAgent string
	DeviceID  string
}

type originKey struct{}

func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// FromContext returns the zero Origin when none was attached.
func FromContext(ctx context.Context) Origin {
	if ctx == nil {
		return Origin{}
	}
	origin, _ := ctx.Value(originKey{}).(Origin)
	return origin
}

// WithActor replaces the actor and keeps the rest of the origin. Webhooks use
// it to attribute changes to the payment provider.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	origin := FromContext(ctx)
	origin.ActorType = actorType
	origin.ActorID = actorID
	return WithOrigin(ctx, origin)
}
