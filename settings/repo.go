package settings

import "context"

// Organization holds the active tenant's preferred settings.
type Organization struct {
	Currency string `json:"currency"`
	TaxRate  string `json:"taxRate"`
}

// Preferred returns the organization's preferred identifier for kind.
func (o *Organization) Preferred(kind Kind) string {
	if o == nil {
		return ""
	}
	if kind == KindTaxRate {
		return o.TaxRate
	}
	return o.Currency
}

// Repo lists settings entries for the active tenant.
type Repo interface {
	ListCurrencies(ctx context.Context) ([]Record, error)
	ListTaxRates(ctx context.Context) ([]Record, error)
	OrganizationSettings(ctx context.Context) (*Organization, error)
}
