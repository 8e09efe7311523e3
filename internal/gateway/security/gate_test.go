package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestGate(allowlist, blocklist []string) (*Gate, *time.Time) {
	g := NewGate(allowlist, blocklist)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestEvaluateBlocklist(t *testing.T) {
	g, _ := newTestGate(nil, []string{"10.0.0.1"})

	decision := g.Evaluate("10.0.0.1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "ip blocked", decision.Reason)

	decision = g.Evaluate("10.0.0.2")
	assert.True(t, decision.Allowed)
}

func TestEvaluateAllowlist(t *testing.T) {
	g, _ := newTestGate([]string{"192.168.1.5"}, nil)

	assert.True(t, g.Evaluate("192.168.1.5").Allowed)

	decision := g.Evaluate("192.168.1.6")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "ip not in allowlist", decision.Reason)
}

func TestBlocklistWinsOverAllowlist(t *testing.T) {
	g, _ := newTestGate([]string{"10.0.0.1"}, []string{"10.0.0.1"})

	decision := g.Evaluate("10.0.0.1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "ip blocked", decision.Reason)
}

func TestFailedLoginsFlagSuspicious(t *testing.T) {
	g, _ := newTestGate(nil, nil)
	ip := "203.0.113.7"

	for i := 0; i < 4; i++ {
		g.RecordFailedLogin(ip)
		assert.True(t, g.Evaluate(ip).Allowed, "failure %d should not flag", i+1)
	}

	g.RecordFailedLogin(ip)
	decision := g.Evaluate(ip)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "suspicious activity", decision.Reason)
}

func TestFailedLoginsOutsideWindowDoNotAccumulate(t *testing.T) {
	g, now := newTestGate(nil, nil)
	ip := "203.0.113.8"

	for i := 0; i < 4; i++ {
		g.RecordFailedLogin(ip)
	}

	// The earlier failures age out of the one-hour window.
	*now = now.Add(61 * time.Minute)
	g.RecordFailedLogin(ip)
	assert.True(t, g.Evaluate(ip).Allowed)
}

func TestSuspiciousFlagExpiresAfter24Hours(t *testing.T) {
	g, now := newTestGate(nil, nil)
	ip := "203.0.113.9"

	for i := 0; i < 5; i++ {
		g.RecordFailedLogin(ip)
	}
	assert.False(t, g.Evaluate(ip).Allowed)

	*now = now.Add(23 * time.Hour)
	assert.False(t, g.Evaluate(ip).Allowed)

	*now = now.Add(2 * time.Hour)
	assert.True(t, g.Evaluate(ip).Allowed)
}

func TestFailureWhileFlaggedExtendsFlag(t *testing.T) {
	g, now := newTestGate(nil, nil)
	ip := "203.0.113.10"

	for i := 0; i < 5; i++ {
		g.RecordFailedLogin(ip)
	}

	// Another failure 20 hours in restarts the 24-hour clock.
	*now = now.Add(20 * time.Hour)
	g.RecordFailedLogin(ip)

	*now = now.Add(23 * time.Hour)
	assert.False(t, g.Evaluate(ip).Allowed)

	*now = now.Add(2 * time.Hour)
	assert.True(t, g.Evaluate(ip).Allowed)
}
