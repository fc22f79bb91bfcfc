// Package eligibility implements the login eligibility gate: accounts
// whose affiliation timestamp claim has gone stale are denied login
// unless they hold a configured exception entitlement.
package eligibility

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/groupsync"
	"github.com/oidcbridge/oidcbridge/pkg/settings"
)

// Checker evaluates the eligibility gate.
type Checker struct {
	log *logrus.Logger
	now func() time.Time
}

// NewChecker creates an eligibility checker.
func NewChecker(log *logrus.Logger) *Checker {
	if log == nil {
		log = logrus.New()
	}
	return &Checker{log: log, now: time.Now}
}

// Check reports whether the subject is eligible to log in. With no
// eligible-timestamp-claim configured everyone is eligible. Otherwise
// the claim's timestamp must be more recent than the expiry threshold,
// or the subject must hold the exception entitlement URN verbatim among
// their group claims.
func (c *Checker) Check(userInfo claims.Claims, cfg *settings.OpenIDConfig) bool {
	if cfg == nil || cfg.EligibleTimestampClaim == "" {
		return true
	}

	threshold, err := relativeTime(cfg.EligibleExpiryExpr(), c.now())
	if err != nil {
		c.log.WithError(err).Error("invalid eligible-expiry expression, denying eligibility")
		return c.hasException(userInfo, cfg)
	}

	ts, err := userInfo.Time(cfg.EligibleTimestampClaim)
	if err != nil || ts.Before(threshold) {
		if err != nil {
			c.log.WithError(err).Debug("eligibility timestamp claim unusable")
		}
		return c.hasException(userInfo, cfg)
	}
	return true
}

// hasException reports whether the exception URN appears verbatim in
// the raw group claim values.
func (c *Checker) hasException(userInfo claims.Claims, cfg *settings.OpenIDConfig) bool {
	exception := cfg.EligibleExceptionURN
	if exception == "" {
		return false
	}
	urns, err := groupsync.GroupURNs(userInfo, cfg)
	if err != nil {
		return false
	}
	for _, urn := range urns {
		if urn == exception {
			c.log.WithField("urn", exception).Info("stale affiliation, eligible through exception entitlement")
			return true
		}
	}
	return false
}

// relativeTime resolves a relative expression such as "-1 year" or
// "-90 days" against the anchor time.
func relativeTime(expr string, anchor time.Time) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("unsupported relative expression %q", expr)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported relative expression %q", expr)
	}

	unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
	switch unit {
	case "year":
		return anchor.AddDate(n, 0, 0), nil
	case "month":
		return anchor.AddDate(0, n, 0), nil
	case "week":
		return anchor.AddDate(0, 0, 7*n), nil
	case "day":
		return anchor.AddDate(0, 0, n), nil
	case "hour":
		return anchor.Add(time.Duration(n) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported relative unit %q", fields[1])
	}
}
