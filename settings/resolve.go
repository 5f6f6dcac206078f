package settings

// Step records which rule answered a resolution.
type Step int

const (
	StepExact Step = iota + 1
	StepQualified
	StepBarePrefix
	StepDefault
	StepFallback
)

func (s Step) String() string {
	switch s {
	case StepExact:
		return "exact"
	case StepQualified:
		return "qualified"
	case StepBarePrefix:
		return "bare_prefix"
	case StepDefault:
		return "default"
	case StepFallback:
		return "fallback"
	}
	return "unknown"
}

// Fallback returns the system default for kind, used when nothing in the
// catalog matches.
func Fallback(kind Kind) Entry {
	if kind == KindTaxRate {
		return Entry{
			Identifier: "no-tax",
			Code:       "no-tax",
			Origin:     Core{},
			IsCore:     true,
			IsDefault:  true,
			Kind:       KindTaxRate,
			Name:       "No Tax",
			Rate:       0,
		}
	}
	return Entry{
		Identifier: "USD",
		Code:       "USD",
		Origin:     Core{},
		IsCore:     true,
		IsDefault:  true,
		Kind:       KindCurrency,
		Name:       "US Dollar",
		Symbol:     "$",
	}
}

// Resolve picks the entry of kind that requested refers to, as seen by the
// active tenant. activeTenant is nil when no tenant is active, in which case
// only core entries are visible. Entries owned by other tenants are never
// visible.
//
// Order: exact identifier match (a tenant copy shadows the core entry with
// the same code), then for unqualified requests a tenant-qualified core copy
// with that code, then for qualified requests the bare prefix, then the
// catalog default (tenant owned first), then Fallback(kind).
//
// Resolve has no side effects; identical inputs yield the identical entry.
func Resolve(kind Kind, entries []Entry, activeTenant *int64, requested string) (Entry, Step) {
	visible := visibleEntries(kind, entries, activeTenant)

	if requested != "" {
		if e, ok := lookup(visible, activeTenant, requested); ok {
			return e, StepExact
		}
		if prefix, qualified := splitQualified(requested); !qualified {
			if e, ok := qualifiedCopy(visible, requested); ok {
				return e, StepQualified
			}
		} else {
			if e, ok := lookup(visible, activeTenant, prefix); ok {
				return e, StepBarePrefix
			}
			if e, ok := qualifiedCopy(visible, prefix); ok {
				return e, StepBarePrefix
			}
		}
	}

	if e, ok := defaultEntry(visible); ok {
		return e, StepDefault
	}
	return Fallback(kind), StepFallback
}

func visibleEntries(kind Kind, entries []Entry, activeTenant *int64) []Entry {
	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Kind != "" && e.Kind != kind {
			continue
		}
		switch o := e.Origin.(type) {
		case TenantOwned:
			if activeTenant == nil || o.TenantID != *activeTenant {
				continue
			}
		case Core, nil:
		default:
			continue
		}
		visible = append(visible, e)
	}
	return visible
}

// lookup finds an exact identifier match, letting the active tenant's copy
// of a core code win over the core entry.
func lookup(visible []Entry, activeTenant *int64, identifier string) (Entry, bool) {
	for _, e := range visible {
		if e.Identifier != identifier {
			continue
		}
		if !e.IsTenantOwned() && activeTenant != nil {
			if override, ok := tenantCopy(visible, e.Code); ok {
				return override, true
			}
		}
		return e, true
	}
	return Entry{}, false
}

func tenantCopy(visible []Entry, code string) (Entry, bool) {
	for _, e := range visible {
		if e.IsTenantOwned() && e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

func qualifiedCopy(visible []Entry, code string) (Entry, bool) {
	for _, e := range visible {
		if e.IsTenantOwned() && e.IsCore && e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

func defaultEntry(visible []Entry) (Entry, bool) {
	var core *Entry
	for i, e := range visible {
		if !e.IsDefault {
			continue
		}
		if e.IsTenantOwned() {
			return e, true
		}
		if core == nil {
			core = &visible[i]
		}
	}
	if core != nil {
		return *core, true
	}
	return Entry{}, false
}
