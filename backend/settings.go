package backend

import (
	"context"
	"net/http"

	"github.com/jrsteele09/repairshop-session/settings"
)

var _ settings.Repo = (*Client)(nil)

func (c *Client) ListCurrencies(ctx context.Context) ([]settings.Record, error) {
	return c.listSettings(ctx, "/api/settings/currencies")
}

func (c *Client) ListTaxRates(ctx context.Context) ([]settings.Record, error) {
	return c.listSettings(ctx, "/api/settings/tax-rates")
}

func (c *Client) listSettings(ctx context.Context, path string) ([]settings.Record, error) {
	r, err := c.scoped(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var records []settings.Record
	if err := c.do(ctx, r, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// OrganizationSettings returns the preferred settings of the active
// tenant's organization.
func (c *Client) OrganizationSettings(ctx context.Context) (*settings.Organization, error) {
	r, err := c.scoped(http.MethodGet, "/api/settings/organization", nil)
	if err != nil {
		return nil, err
	}
	var org settings.Organization
	if err := c.do(ctx, r, &org); err != nil {
		return nil, err
	}
	return &org, nil
}
