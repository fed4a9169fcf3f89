package quota

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell/internal/clock"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
)

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool
	Reason  string
	Limit   int
	Used    int
}

const (
	ReasonUnmetered          = "unmetered"
	ReasonUnlimited          = "unlimited"
	ReasonWithinLimit        = "within_limit"
	ReasonLimitReached       = "limit_reached"
	ReasonTenantMissing      = "tenant_missing"
	ReasonLookupFailed       = "lookup_failed"
	ReasonResetFailed        = "reset_failed"
	ReasonCounterUnavailable = "counter_unavailable"
)

// Checker decides whether a tenant may start one more generation of a given
// kind this month. Project scopes fail closed: any uncertainty about the
// project's true usage denies the attempt, since project quotas are the
// billing boundary. Personal scopes fail open: a personal limit is a soft
// product nudge and infrastructure trouble should not block an individual.
type Checker struct {
	policy  *Policy
	counter Counter
	repo    tenantdomain.Repository
	clock   clock.Clock
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

type CheckerParams struct {
	fx.In

	Policy  *Policy
	Counter Counter
	Repo    tenantdomain.Repository
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func NewChecker(p CheckerParams) *Checker {
	return &Checker{
		policy:  p.Policy,
		counter: p.Counter,
		repo:    p.Repo,
		clock:   p.Clock,
		metrics: p.Metrics,
		log:     p.Log.Named("quota.checker"),
	}
}

// CheckLimit reports whether one more generation may start under the scope.
// It never returns an error; degraded states resolve per the scope's
// fail-open or fail-closed posture and surface in the decision reason.
func (c *Checker) CheckLimit(ctx context.Context, scope tenantdomain.TenantScope, kind tenantdomain.ResourceKind) Decision {
	var d Decision
	switch {
	case scope.IsProject():
		d = c.checkProject(ctx, scope, kind)
	case scope.IsPersonal():
		d = c.checkPersonal(ctx, scope, kind)
	default:
		return Decision{Allowed: true, Reason: ReasonUnmetered, Limit: Unlimited}
	}
	c.metrics.RecordQuotaDecision(ctx, string(scope.Kind()), string(kind), d.Allowed, d.Reason)
	return d
}

func (c *Checker) checkProject(ctx context.Context, scope tenantdomain.TenantScope, kind tenantdomain.ResourceKind) Decision {
	now := c.clock.Now()

	project, err := c.repo.GetProject(ctx, scope.ID())
	if err != nil {
		c.log.Error("project lookup failed, denying",
			zap.String("scope", scope.String()),
			zap.Error(err),
		)
		return Decision{Reason: ReasonLookupFailed}
	}
	if project == nil {
		c.log.Warn("quota check for unknown project, denying",
			zap.String("scope", scope.String()),
		)
		return Decision{Reason: ReasonTenantMissing}
	}

	if usageStale(project.UsageResetDate, now) {
		if err := c.repo.ResetProjectUsage(ctx, project.ID, now); err != nil {
			c.log.Error("monthly usage reset failed, denying",
				zap.String("scope", scope.String()),
				zap.Error(err),
			)
			return Decision{Reason: ReasonResetFailed}
		}
		project.ArticlesUsed, project.OutlinesUsed, project.ImagesUsed = 0, 0, 0
	}

	limit := c.policy.Limit(project.Tier, kind)
	if limit == Unlimited {
		return Decision{Allowed: true, Reason: ReasonUnlimited, Limit: Unlimited, Used: project.UsedFor(kind)}
	}

	res := c.incrementCounter(ctx, scope, kind, now)
	if !res.Available {
		c.metrics.RecordCounterFallback(ctx, string(scope.Kind()))
		c.log.Warn("usage counter unavailable, denying project attempt",
			zap.String("scope", scope.String()),
		)
		return Decision{Reason: ReasonCounterUnavailable, Limit: limit, Used: project.UsedFor(kind)}
	}

	if res.Count > int64(limit) {
		return Decision{Reason: ReasonLimitReached, Limit: limit, Used: int(res.Count) - 1}
	}
	return Decision{Allowed: true, Reason: ReasonWithinLimit, Limit: limit, Used: int(res.Count) - 1}
}

func (c *Checker) checkPersonal(ctx context.Context, scope tenantdomain.TenantScope, kind tenantdomain.ResourceKind) Decision {
	now := c.clock.Now()

	account, err := c.repo.GetUserAccount(ctx, scope.ID())
	if err != nil {
		c.log.Warn("user account lookup failed, allowing",
			zap.String("scope", scope.String()),
			zap.Error(err),
		)
		return Decision{Allowed: true, Reason: ReasonLookupFailed, Limit: Unlimited}
	}
	if account == nil {
		return Decision{Allowed: true, Reason: ReasonTenantMissing, Limit: Unlimited}
	}

	used := account.UsedFor(kind)
	if usageStale(account.UsageResetDate, now) {
		if err := c.repo.ResetUserUsage(ctx, account.ID, now); err != nil {
			c.log.Warn("monthly usage reset failed, allowing",
				zap.String("scope", scope.String()),
				zap.Error(err),
			)
			return Decision{Allowed: true, Reason: ReasonResetFailed, Limit: Unlimited}
		}
		used = 0
	}

	limit := c.policy.Limit(account.Tier, kind)
	if limit == Unlimited {
		return Decision{Allowed: true, Reason: ReasonUnlimited, Limit: Unlimited, Used: used}
	}

	res := c.incrementCounter(ctx, scope, kind, now)
	if res.Available {
		if res.Count > int64(limit) {
			return Decision{Reason: ReasonLimitReached, Limit: limit, Used: int(res.Count) - 1}
		}
		return Decision{Allowed: true, Reason: ReasonWithinLimit, Limit: limit, Used: int(res.Count) - 1}
	}

	// Without the shared counter fall back to the stored monthly tally.
	c.metrics.RecordCounterFallback(ctx, string(scope.Kind()))
	if used >= limit {
		return Decision{Reason: ReasonLimitReached, Limit: limit, Used: used}
	}
	return Decision{Allowed: true, Reason: ReasonWithinLimit, Limit: limit, Used: used}
}

func (c *Checker) incrementCounter(ctx context.Context, scope tenantdomain.TenantScope, kind tenantdomain.ResourceKind, at time.Time) CounterResult {
	if c.counter == nil || !c.counter.Enabled() {
		return CounterResult{Available: false}
	}
	return c.counter.IncrementAndGet(ctx, scope, kind, at)
}

// usageStale reports whether the reset stamp belongs to an earlier calendar
// month than now, in UTC.
func usageStale(resetDate *time.Time, now time.Time) bool {
	if resetDate == nil {
		return true
	}
	r, n := resetDate.UTC(), now.UTC()
	if r.Year() != n.Year() {
		return r.Year() < n.Year()
	}
	return r.Month() < n.Month()
}

// UsageSnapshot summarizes one resource kind for the usage endpoint.
type UsageSnapshot struct {
	Kind  tenantdomain.ResourceKind `json:"resource_kind"`
	Used  int                       `json:"used"`
	Limit int                       `json:"limit"`
}

// Usage returns the stored monthly tallies and configured limits for a
// metered scope. It reads the database only; the fast counter is a gate,
// not a reporting surface.
func (c *Checker) Usage(ctx context.Context, scope tenantdomain.TenantScope) ([]UsageSnapshot, error) {
	var (
		tier tenantdomain.Tier
		used func(tenantdomain.ResourceKind) int
	)
	switch {
	case scope.IsProject():
		project, err := c.repo.GetProject(ctx, scope.ID())
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, tenantdomain.ErrProjectNotFound
		}
		tier, used = project.Tier, project.UsedFor
	case scope.IsPersonal():
		account, err := c.repo.GetUserAccount(ctx, scope.ID())
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, tenantdomain.ErrUserNotFound
		}
		tier, used = account.Tier, account.UsedFor
	default:
		return nil, nil
	}

	kinds := []tenantdomain.ResourceKind{
		tenantdomain.ResourceArticle,
		tenantdomain.ResourceOutline,
		tenantdomain.ResourceImage,
	}
	out := make([]UsageSnapshot, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, UsageSnapshot{
			Kind:  kind,
			Used:  used(kind),
			Limit: c.policy.Limit(tier, kind),
		})
	}
	return out, nil
}
