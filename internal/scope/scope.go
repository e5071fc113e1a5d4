// Package scope models the tenant-isolation unit a session operates under.
// A session is Unscoped, team-scoped, or campaign-scoped, never both. The
// scope is bridged into the database twice: as transaction-local session
// variables consumed by the PostgreSQL row-level-security policies, and as
// an explicit predicate the generic query engine always ANDs in. Both
// boundaries fail closed.
package scope

import (
	"context"
	"fmt"
)

type Kind string

const (
	Unscoped Kind = "unscoped"
	Team     Kind = "team"
	Campaign Kind = "campaign"
)

// Current is the resolved scope for one request or task invocation.
type Current struct {
	Kind       Kind
	TeamID     int64
	CampaignID int64

	// SystemMode bypasses tenant isolation for trusted background and
	// admin contexts (task workers, cross-tenant jobs).
	SystemMode bool
}

// TeamScope returns a team-scoped Current.
func TeamScope(teamID int64) Current {
	return Current{Kind: Team, TeamID: teamID}
}

// CampaignScope returns a campaign-scoped Current.
func CampaignScope(campaignID int64) Current {
	return Current{Kind: Campaign, CampaignID: campaignID}
}

// System returns a Current that bypasses tenant isolation entirely.
func System() Current {
	return Current{Kind: Unscoped, SystemMode: true}
}

// None returns the unscoped Current. Queries issued under it see zero rows.
func None() Current {
	return Current{Kind: Unscoped}
}

// IsScoped reports whether the scope confines queries to a tenant.
func (c Current) IsScoped() bool {
	return c.Kind == Team || c.Kind == Campaign
}

func (c Current) String() string {
	switch c.Kind {
	case Team:
		return fmt.Sprintf("team:%d", c.TeamID)
	case Campaign:
		return fmt.Sprintf("campaign:%d", c.CampaignID)
	default:
		if c.SystemMode {
			return "system"
		}
		return "unscoped"
	}
}

type ctxKey struct{}

// WithScope attaches a scope to the context.
func WithScope(ctx context.Context, c Current) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the scope attached to the context, or the unscoped
// (fail-closed) default when none was set.
func FromContext(ctx context.Context) Current {
	if c, ok := ctx.Value(ctxKey{}).(Current); ok {
		return c
	}
	return None()
}
