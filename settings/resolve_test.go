package settings_test

import (
	"testing"

	"github.com/jrsteele09/repairshop-session/internal/utils"
	"github.com/jrsteele09/repairshop-session/settings"
	"github.com/stretchr/testify/require"
)

func coreUSD() settings.Record {
	return settings.Record{ID: "USD", Name: "US Dollar", Symbol: "$", IsCore: true}
}

func tenantUSD(tenantID int64) settings.Record {
	return settings.Record{
		ID:       settings.Qualify("USD", tenantID),
		Name:     "US Dollar (shop)",
		Symbol:   "US$",
		IsCore:   true,
		TenantID: utils.Ptr(tenantID),
	}
}

func currencies(records ...settings.Record) []settings.Entry {
	return settings.FromRecords(settings.KindCurrency, records)
}

func TestFromRecord(t *testing.T) {
	e := settings.FromRecord(settings.KindCurrency, tenantUSD(7))
	require.Equal(t, "USD_7", e.Identifier)
	require.Equal(t, "USD", e.Code)
	require.Equal(t, settings.TenantOwned{TenantID: 7}, e.Origin)
	require.True(t, e.OwnedBy(7))
	require.False(t, e.OwnedBy(8))

	// suffix that does not name the owning tenant is part of the code
	odd := settings.FromRecord(settings.KindCurrency, settings.Record{ID: "EUR_3", TenantID: utils.Ptr(int64(7))})
	require.Equal(t, "EUR_3", odd.Code)

	core := settings.FromRecord(settings.KindCurrency, coreUSD())
	require.Equal(t, settings.Core{}, core.Origin)
	require.Equal(t, "USD", core.Code)
}

func TestResolveTenantCopyShadowsCore(t *testing.T) {
	entries := currencies(coreUSD(), tenantUSD(7))

	e, step := settings.Resolve(settings.KindCurrency, entries, utils.Ptr(int64(7)), "USD")
	require.Equal(t, "USD_7", e.Identifier)
	require.Equal(t, settings.StepExact, step)

	e, _ = settings.Resolve(settings.KindCurrency, entries, utils.Ptr(int64(8)), "USD")
	require.Equal(t, "USD", e.Identifier)

	e, _ = settings.Resolve(settings.KindCurrency, entries, nil, "USD")
	require.Equal(t, "USD", e.Identifier)
}

func TestResolveSteps(t *testing.T) {
	seven := utils.Ptr(int64(7))

	tests := []struct {
		name       string
		entries    []settings.Entry
		active     *int64
		requested  string
		identifier string
		step       settings.Step
	}{
		{
			name:       "qualified core copy without a core entry",
			entries:    currencies(tenantUSD(7)),
			active:     seven,
			requested:  "USD",
			identifier: "USD_7",
			step:       settings.StepQualified,
		},
		{
			name:       "qualified request falls back to bare prefix",
			entries:    currencies(coreUSD()),
			active:     seven,
			requested:  "USD_9",
			identifier: "USD",
			step:       settings.StepBarePrefix,
		},
		{
			name:       "qualified request for own copy",
			entries:    currencies(coreUSD(), tenantUSD(7)),
			active:     seven,
			requested:  "USD_7",
			identifier: "USD_7",
			step:       settings.StepExact,
		},
		{
			name: "default prefers tenant entry",
			entries: currencies(
				settings.Record{ID: "EUR", IsDefault: true},
				settings.Record{ID: "GBP_7", IsDefault: true, TenantID: seven},
			),
			active:     seven,
			requested:  "JPY",
			identifier: "GBP_7",
			step:       settings.StepDefault,
		},
		{
			name: "other tenant default is invisible",
			entries: currencies(
				settings.Record{ID: "EUR", IsDefault: true},
				settings.Record{ID: "GBP_8", IsDefault: true, TenantID: utils.Ptr(int64(8))},
			),
			active:     seven,
			identifier: "EUR",
			step:       settings.StepDefault,
		},
		{
			name:       "system fallback",
			entries:    currencies(settings.Record{ID: "EUR"}),
			active:     seven,
			requested:  "JPY",
			identifier: "USD",
			step:       settings.StepFallback,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, step := settings.Resolve(settings.KindCurrency, tc.entries, tc.active, tc.requested)
			require.Equal(t, tc.identifier, e.Identifier)
			require.Equal(t, tc.step, step)
		})
	}
}

func TestResolveFallbacks(t *testing.T) {
	cur, step := settings.Resolve(settings.KindCurrency, nil, nil, "")
	require.Equal(t, settings.StepFallback, step)
	require.Equal(t, "$", cur.Symbol)

	tax, _ := settings.Resolve(settings.KindTaxRate, nil, nil, "")
	require.Equal(t, "No Tax", tax.Name)
	require.Zero(t, tax.Rate)
}

func TestResolveIsIdempotent(t *testing.T) {
	entries := currencies(coreUSD(), tenantUSD(7), settings.Record{ID: "EUR", IsDefault: true})
	first, firstStep := settings.Resolve(settings.KindCurrency, entries, utils.Ptr(int64(7)), "CHF")
	for i := 0; i < 10; i++ {
		e, step := settings.Resolve(settings.KindCurrency, entries, utils.Ptr(int64(7)), "CHF")
		require.Equal(t, first, e)
		require.Equal(t, firstStep, step)
	}
}
