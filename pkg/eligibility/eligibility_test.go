package eligibility

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

func newChecker(now time.Time) *Checker {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := NewChecker(log)
	c.now = func() time.Time { return now }
	return c
}

var anchor = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCheck_NoTimestampClaimConfigured(t *testing.T) {
	c := newChecker(anchor)

	assert.True(t, c.Check(claims.FromMap(nil), &settings.OpenIDConfig{}))
	assert.True(t, c.Check(claims.FromMap(nil), nil))
}

func TestCheck_FreshTimestamp(t *testing.T) {
	c := newChecker(anchor)
	cfg := &settings.OpenIDConfig{EligibleTimestampClaim: "last_affiliation_change"}

	userInfo := claims.FromMap(map[string]any{
		"last_affiliation_change": "2024-01-15T00:00:00Z",
	})
	assert.True(t, c.Check(userInfo, cfg))
}

func TestCheck_StaleTimestamp(t *testing.T) {
	c := newChecker(anchor)
	cfg := &settings.OpenIDConfig{EligibleTimestampClaim: "last_affiliation_change"}

	// Older than the default "-1 year" threshold.
	userInfo := claims.FromMap(map[string]any{
		"last_affiliation_change": "2022-01-15T00:00:00Z",
	})
	assert.False(t, c.Check(userInfo, cfg))
}

func TestCheck_CustomExpiry(t *testing.T) {
	c := newChecker(anchor)
	cfg := &settings.OpenIDConfig{
		EligibleTimestampClaim: "last_affiliation_change",
		EligibleExpiry:         "-90 days",
	}

	fresh := claims.FromMap(map[string]any{
		"last_affiliation_change": "2024-04-01T00:00:00Z",
	})
	assert.True(t, c.Check(fresh, cfg))

	stale := claims.FromMap(map[string]any{
		"last_affiliation_change": "2024-01-01T00:00:00Z",
	})
	assert.False(t, c.Check(stale, cfg))
}

func TestCheck_MissingTimestampClaim(t *testing.T) {
	c := newChecker(anchor)
	cfg := &settings.OpenIDConfig{EligibleTimestampClaim: "last_affiliation_change"}

	assert.False(t, c.Check(claims.FromMap(map[string]any{}), cfg))
}

func TestCheck_ExceptionEntitlement(t *testing.T) {
	c := newChecker(anchor)
	cfg := &settings.OpenIDConfig{
		EligibleTimestampClaim: "last_affiliation_change",
		EligibleExceptionURN:   "urn:geant:cesnet.cz:res:eligible-exception",
	}

	stale := map[string]any{
		"last_affiliation_change": "2020-01-01T00:00:00Z",
	}

	// Stale and no entitlement: denied.
	assert.False(t, c.Check(claims.FromMap(stale), cfg))

	// Stale but holding the exception URN verbatim: eligible.
	stale[settings.DefaultGroupsClaim] = []any{
		"urn:geant:cesnet.cz:group:1234-uuid",
		"urn:geant:cesnet.cz:res:eligible-exception",
	}
	assert.True(t, c.Check(claims.FromMap(stale), cfg))
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		expr string
		want time.Time
	}{
		{"-1 year", anchor.AddDate(-1, 0, 0)},
		{"-6 months", anchor.AddDate(0, -6, 0)},
		{"-2 weeks", anchor.AddDate(0, 0, -14)},
		{"-90 days", anchor.AddDate(0, 0, -90)},
		{"-12 hours", anchor.Add(-12 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := relativeTime(tt.expr, anchor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, expr := range []string{"", "yesterday", "-1", "one year"} {
		_, err := relativeTime(expr, anchor)
		assert.Error(t, err, expr)
	}
}
