// Package settings resolves currency and tax-rate entries for the active
// tenant. Core entries are shared by every tenant; a tenant may own a
// customized copy of a core entry, stored under "<code>_<tenantId>".
package settings

import (
	"strconv"
	"strings"
)

type Kind string

const (
	KindCurrency Kind = "currency"
	KindTaxRate  Kind = "taxRate"
)

// Origin says who owns an entry: Core or TenantOwned.
type Origin interface {
	isOrigin()
}

type Core struct{}

type TenantOwned struct {
	TenantID int64
}

func (Core) isOrigin()        {}
func (TenantOwned) isOrigin() {}

// Entry is one currency or tax rate.
type Entry struct {
	// Identifier is the storage key, "USD" or "USD_7".
	Identifier string
	// Code is the unqualified code shared by core and tenant copies.
	Code      string
	Origin    Origin
	IsCore    bool
	IsDefault bool
	Kind      Kind
	Name      string
	Symbol    string
	Rate      float64
}

// OwnedBy reports whether the entry belongs to tenantID.
func (e Entry) OwnedBy(tenantID int64) bool {
	o, ok := e.Origin.(TenantOwned)
	return ok && o.TenantID == tenantID
}

func (e Entry) IsTenantOwned() bool {
	_, ok := e.Origin.(TenantOwned)
	return ok
}

// Record is an entry as the backend stores it.
type Record struct {
	ID        string  `json:"id"`
	Code      string  `json:"code,omitempty"`
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	IsCore    bool    `json:"isCore"`
	IsDefault bool    `json:"isDefault"`
	TenantID  *int64  `json:"tenantId,omitempty"`
}

// FromRecord converts a stored record into an Entry. A record is tenant
// owned when it carries a tenant id; its identifier is only treated as
// qualified when it ends in "_" plus that same id.
func FromRecord(kind Kind, r Record) Entry {
	e := Entry{
		Identifier: r.ID,
		Code:       r.Code,
		Origin:     Core{},
		IsCore:     r.IsCore,
		IsDefault:  r.IsDefault,
		Kind:       kind,
		Name:       r.Name,
		Symbol:     r.Symbol,
		Rate:       r.Rate,
	}
	if r.TenantID != nil {
		e.Origin = TenantOwned{TenantID: *r.TenantID}
	}
	if e.Code == "" {
		e.Code = r.ID
		if r.TenantID != nil {
			if prefix, ok := stripQualifier(r.ID, *r.TenantID); ok {
				e.Code = prefix
			}
		}
	}
	return e
}

func FromRecords(kind Kind, records []Record) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, FromRecord(kind, r))
	}
	return entries
}

// Qualify builds the stored identifier of a tenant's copy of code.
func Qualify(code string, tenantID int64) string {
	return code + "_" + strconv.FormatInt(tenantID, 10)
}

func stripQualifier(identifier string, tenantID int64) (string, bool) {
	suffix := "_" + strconv.FormatInt(tenantID, 10)
	if !strings.HasSuffix(identifier, suffix) || len(identifier) == len(suffix) {
		return "", false
	}
	return strings.TrimSuffix(identifier, suffix), true
}

// splitQualified splits a requested identifier of the form "<code>_<digits>".
func splitQualified(identifier string) (string, bool) {
	i := strings.LastIndexByte(identifier, '_')
	if i <= 0 || i == len(identifier)-1 {
		return "", false
	}
	if _, err := strconv.ParseUint(identifier[i+1:], 10, 64); err != nil {
		return "", false
	}
	return identifier[:i], true
}
