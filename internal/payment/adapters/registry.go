// Package adapters keeps the set of payment processors the service can talk to.
package adapters

import (
	"strings"

	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
)

type Registry struct {
	factories map[string]paymentdomain.AdapterFactory
}

func NewRegistry(factories ...paymentdomain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]paymentdomain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		r.factories[normalize(f.Provider())] = f
	}
	return r
}

func (r *Registry) NewAdapter(provider string, cfg paymentdomain.AdapterConfig) (paymentdomain.Provider, error) {
	if r == nil {
		return nil, paymentdomain.ErrProviderNotFound
	}
	f, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	cfg.Provider = normalize(provider)
	return f.NewAdapter(cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
