package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records group activity and HTTP traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	groupOps      *prometheus.CounterVec
	membershipOps *prometheus.CounterVec
	invitations   *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		groupOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forums_group_operations_total",
			Help: "Group create/update/delete/archive operations.",
		}, []string{"op"}),
		membershipOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forums_membership_operations_total",
			Help: "Membership changes by kind.",
		}, []string{"op"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forums_invitations_total",
			Help: "Invitations by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forums_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.groupOps, m.membershipOps, m.invitations, m.requests)
	return m
}

func (m *Metrics) GroupOp(op string) {
	if m == nil {
		return
	}
	m.groupOps.WithLabelValues(op).Inc()
}

func (m *Metrics) MembershipOp(op string) {
	if m == nil {
		return
	}
	m.membershipOps.WithLabelValues(op).Inc()
}

func (m *Metrics) Invitation(outcome string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(outcome).Inc()
}

// Middleware counts every request by route template
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Handler exposes the given gatherer in the prometheus text format
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
