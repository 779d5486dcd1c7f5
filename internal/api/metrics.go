// ABOUTME: Prometheus collectors for the HTTP layer, exposed on /metrics.
// ABOUTME: Authorization denials are counted per check so policy regressions show up on dashboards.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check labels for authzDenials.
const (
	checkActiveRole = "active_role"
	checkOrgRole    = "org_role"
	checkSuperAdmin = "super_admin"
	checkAssignRole = "assign_role"
	checkSelf       = "self"
	checkOrgSession = "org_session"
)

var authzDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gestor",
	Name:      "authz_denials_total",
	Help:      "Requests rejected by an authorization check.",
}, []string{"check"})
