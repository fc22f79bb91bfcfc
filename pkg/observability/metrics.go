package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Login flow metrics
	LoginsTotal        *prometheus.CounterVec
	LoginDuration      prometheus.Histogram
	EligibilityDenials prometheus.Counter

	// Provisioning metrics
	AccountsProvisioned *prometheus.CounterVec

	// Group sync metrics
	GroupMembershipsAdded   prometheus.Counter
	GroupMembershipsRemoved prometheus.Counter
	GroupURNsSkipped        *prometheus.CounterVec

	// Mapping cleanup metrics
	ExpiredIdentitiesPruned prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all bridge metrics on a dedicated
// registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidcbridge_logins_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LoginDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oidcbridge_login_duration_seconds",
				Help:    "Login flow duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		EligibilityDenials: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oidcbridge_eligibility_denials_total",
				Help: "Logins denied by the eligibility gate",
			},
		),
		AccountsProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidcbridge_accounts_provisioned_total",
				Help: "Accounts created by auto-provisioning, by search mode",
			},
			[]string{"mode"},
		),
		GroupMembershipsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oidcbridge_group_memberships_added_total",
				Help: "Group memberships added by reconciliation",
			},
		),
		GroupMembershipsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oidcbridge_group_memberships_removed_total",
				Help: "Group memberships removed by reconciliation",
			},
		),
		GroupURNsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidcbridge_group_urns_skipped_total",
				Help: "Group URNs skipped during reconciliation, by reason",
			},
			[]string{"reason"},
		),
		ExpiredIdentitiesPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oidcbridge_expired_identities_pruned_total",
				Help: "Identity mappings pruned by the retention job",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.LoginDuration,
		m.EligibilityDenials,
		m.AccountsProvisioned,
		m.GroupMembershipsAdded,
		m.GroupMembershipsRemoved,
		m.GroupURNsSkipped,
		m.ExpiredIdentitiesPruned,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
