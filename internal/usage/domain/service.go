package domain

import "context"

type Service interface {
	// Check reports the caller's standing without consuming quota.
	Check(ctx context.Context, caller Caller) (Decision, error)
	// Consume admits or denies one unit. A denial is a Decision, not an error.
	Consume(ctx context.Context, caller Caller) (Decision, error)
}
