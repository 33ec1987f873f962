package domain

import "strings"

type Product struct {
	ID       string
	PlanType string
	Amount   int64
	Currency string
}

// Catalog maps processor product ids to plans.
type Catalog struct {
	products map[string]Product
	currency string
}

func NewCatalog(currency string, products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product), currency: strings.ToUpper(strings.TrimSpace(currency))}
	for _, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		if p.Currency == "" {
			p.Currency = c.currency
		}
		c.products[p.ID] = p
	}
	return c
}

// Lookup returns the product for id. Unknown ids resolve to a zero-amount
// free product and known=false so callers can report the data problem.
func (c *Catalog) Lookup(id string) (Product, bool) {
	if p, ok := c.products[strings.TrimSpace(id)]; ok {
		return p, true
	}
	return Product{ID: id, PlanType: "free", Amount: 0, Currency: c.currency}, false
}
