package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for the session core. Collectors are
// registered against the registerer passed to New so tests can use a
// private registry.
type Metrics struct {
	SignIns               *prometheus.CounterVec
	TokenRenewals         *prometheus.CounterVec
	TenantSwitches        *prometheus.CounterVec
	TenantsProvisioned    *prometheus.CounterVec
	LocalSessions         prometheus.Counter
	ConfigResolutionSteps *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairshop_session_sign_ins_total",
			Help: "Sign-in resolutions by outcome",
		}, []string{"outcome"}),
		TokenRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairshop_session_token_renewals_total",
			Help: "Access token renewals by outcome",
		}, []string{"outcome"}),
		TenantSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairshop_session_tenant_switches_total",
			Help: "Active tenant switches by outcome",
		}, []string{"outcome"}),
		TenantsProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairshop_session_tenants_provisioned_total",
			Help: "Default tenants auto-provisioned by creation path",
		}, []string{"path"}),
		LocalSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairshop_session_local_sessions_total",
			Help: "Local sessions activated by the non-production fallback",
		}),
		ConfigResolutionSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairshop_session_config_resolutions_total",
			Help: "Configuration resolutions by kind and the step that answered",
		}, []string{"kind", "step"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SignIns,
			m.TokenRenewals,
			m.TenantSwitches,
			m.TenantsProvisioned,
			m.LocalSessions,
			m.ConfigResolutionSteps,
		)
	}
	return m
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) SignIn(outcome string) {
	if m != nil {
		m.SignIns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TokenRenewal(outcome string) {
	if m != nil {
		m.TokenRenewals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TenantSwitch(outcome string) {
	if m != nil {
		m.TenantSwitches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TenantProvisioned(path string) {
	if m != nil {
		m.TenantsProvisioned.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) LocalSession() {
	if m != nil {
		m.LocalSessions.Inc()
	}
}

func (m *Metrics) ConfigResolution(kind, step string) {
	if m != nil {
		m.ConfigResolutionSteps.WithLabelValues(kind, step).Inc()
	}
}
