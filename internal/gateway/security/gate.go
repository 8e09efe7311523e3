// Package security owns the process-wide IP gate: allow/block lists,
// failed-login tracking, and the sticky suspicious-activity flag. All state
// is mutated under one lock; there are no globals and no cleanup sweep,
// stale entries are pruned lazily on access.
package security

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	failedLoginWindow = time.Hour
	failedLoginLimit  = 5
	suspiciousFlagTTL = 24 * time.Hour
)

// Decision is the outcome of evaluating a client IP.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate evaluates client IPs against the configured lists and the
// suspicious-activity tracker.
type Gate struct {
	mu           sync.Mutex
	allowlist    map[string]struct{}
	blocklist    map[string]struct{}
	failedLogins map[string][]time.Time
	suspicious   map[string]time.Time // last offending event per IP

	now func() time.Time
}

// NewGate builds a gate from the configured allow/block lists. An empty
// allowlist admits every IP that is not blocked.
func NewGate(allowlist, blocklist []string) *Gate {
	g := &Gate{
		allowlist:    make(map[string]struct{}, len(allowlist)),
		blocklist:    make(map[string]struct{}, len(blocklist)),
		failedLogins: make(map[string][]time.Time),
		suspicious:   make(map[string]time.Time),
		now:          time.Now,
	}
	for _, ip := range allowlist {
		g.allowlist[ip] = struct{}{}
	}
	for _, ip := range blocklist {
		g.blocklist[ip] = struct{}{}
	}
	return g
}

// Evaluate applies the gate rules in order: blocklist, allowlist membership,
// suspicious flag. Denials carry the reason for logging; callers must respond
// with a fixed access-denied message regardless of the reason.
func (g *Gate) Evaluate(clientIP string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, blocked := g.blocklist[clientIP]; blocked {
		return Decision{Reason: "ip blocked"}
	}

	if len(g.allowlist) > 0 {
		if _, allowed := g.allowlist[clientIP]; !allowed {
			return Decision{Reason: "ip not in allowlist"}
		}
	}

	if last, flagged := g.suspicious[clientIP]; flagged {
		if g.now().Sub(last) < suspiciousFlagTTL {
			return Decision{Reason: "suspicious activity"}
		}
		// Flag expired 24h after the most recent offending event.
		delete(g.suspicious, clientIP)
		delete(g.failedLogins, clientIP)
	}

	return Decision{Allowed: true}
}

// RecordFailedLogin appends a failed-login timestamp for the IP, prunes
// entries older than one hour, and flags the IP suspicious once five
// failures land within that window. Each new failure while flagged extends
// the flag's expiry.
func (g *Gate) RecordFailedLogin(clientIP string) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.failedLogins[clientIP][:0:0]
	for _, t := range g.failedLogins[clientIP] {
		if now.Sub(t) < failedLoginWindow {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	g.failedLogins[clientIP] = recent

	_, flagged := g.suspicious[clientIP]
	if len(recent) >= failedLoginLimit || flagged {
		g.suspicious[clientIP] = now
		if !flagged {
			logrus.WithFields(logrus.Fields{
				"ip":       clientIP,
				"failures": len(recent),
			}).Warn("ip flagged as suspicious")
		}
	}
}
