// Package sla holds the per-role response-time policy shared by the
// correlation engine, the timeout sweeper, and the KPI aggregator.
//
// Threshold selection is always keyed by the *answering* user's role,
// never the asker's.
package sla

import (
	"time"

	"github.com/finovahq/javob/internal/model"
)

// Policy maps a role to its maximum acceptable response latency.
type Policy struct {
	thresholds map[model.Role]time.Duration
	fallback   time.Duration
}

// NewPolicy builds a Policy from a threshold table and a fallback for
// unlisted roles. The map is copied; later mutation of the argument has
// no effect.
func NewPolicy(thresholds map[model.Role]time.Duration, fallback time.Duration) *Policy {
	m := make(map[model.Role]time.Duration, len(thresholds))
	for role, d := range thresholds {
		m[role] = d
	}
	return &Policy{thresholds: m, fallback: fallback}
}

// Threshold returns the response-time threshold for the given answering role.
func (p *Policy) Threshold(role model.Role) time.Duration {
	if d, ok := p.thresholds[role]; ok {
		return d
	}
	return p.fallback
}

// OnTime reports whether a response of the given latency meets the SLA
// for the answering role.
func (p *Policy) OnTime(answeringRole model.Role, responseTime time.Duration) bool {
	return responseTime <= p.Threshold(answeringRole)
}

// TimeoutCutoff returns the age past which a pending question is overdue:
// the stricter of the global timeout and the assigned responder role's
// threshold, when one is known.
func (p *Policy) TimeoutCutoff(assignedRole *model.Role, globalTimeout time.Duration) time.Duration {
	if assignedRole == nil {
		return globalTimeout
	}
	if t := p.Threshold(*assignedRole); t < globalTimeout {
		return t
	}
	return globalTimeout
}

// MinCutoff returns the tightest cutoff any pending question can have under
// this policy: the minimum of the global timeout and every role threshold.
// Questions younger than this can never be overdue, whatever their role.
func (p *Policy) MinCutoff(globalTimeout time.Duration) time.Duration {
	min := globalTimeout
	for _, t := range p.thresholds {
		if t < min {
			min = t
		}
	}
	return min
}
