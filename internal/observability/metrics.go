// Package observability exposes counters for the onboarding flow. Reject
// reasons are coarse labels, never invite identifiers or codes.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	invitesIssued    prometheus.Counter
	invitesAccepted  prometheus.Counter
	inviteRejections *prometheus.CounterVec
	keyRotations     prometheus.Counter
}

// NewMetrics registers the onboarding counters; reg may be
// prometheus.DefaultRegisterer or a test registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		invitesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onboard_invites_issued_total",
			Help: "Invites issued by this device.",
		}),
		invitesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onboard_invites_accepted_total",
			Help: "Invites accepted and merged into the local keyring.",
		}),
		inviteRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_invite_rejections_total",
			Help: "Invite acceptance failures by reason.",
		}, []string{"reason"}),
		keyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onboard_key_rotations_total",
			Help: "Keyring rotations performed.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.invitesIssued, m.invitesAccepted, m.inviteRejections, m.keyRotations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordInviteIssued() {
	if m == nil {
		return
	}
	m.invitesIssued.Inc()
}

func (m *Metrics) RecordInviteAccepted() {
	if m == nil {
		return
	}
	m.invitesAccepted.Inc()
}

func (m *Metrics) RecordInviteRejected(reason string) {
	if m == nil {
		return
	}
	m.inviteRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordKeyRotation() {
	if m == nil {
		return
	}
	m.keyRotations.Inc()
}
