// Package quota enforces per-tenant monthly generation limits.
package quota

import (
	"strings"

	"github.com/inkwellhq/inkwell/internal/config"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
)

// Unlimited is the reserved limit meaning no cap is enforced for the pair.
const Unlimited = config.UnlimitedLimit

// Policy resolves the monthly limit for a (tier, resource kind) pair from
// the plan config snapshot. It is injected once at startup; lookups never
// error. An unknown tier or kind resolves to the lowest finite limit in the
// table so a misconfigured tenant is throttled, not waved through.
type Policy struct {
	plans *config.PlanConfigHolder
}

func NewPolicy(plans *config.PlanConfigHolder) *Policy {
	return &Policy{plans: plans}
}

func (p *Policy) Limit(tier tenantdomain.Tier, kind tenantdomain.ResourceKind) int {
	cfg := p.plans.Get()
	if limits, ok := cfg.Plans[strings.ToLower(strings.TrimSpace(string(tier)))]; ok {
		if v, known := limitFor(limits, kind); known {
			return v
		}
	}
	return lowestFiniteLimit(cfg)
}

func limitFor(limits config.PlanLimits, kind tenantdomain.ResourceKind) (int, bool) {
	switch kind {
	case tenantdomain.ResourceArticle:
		return limits.Articles, true
	case tenantdomain.ResourceOutline:
		return limits.Outlines, true
	case tenantdomain.ResourceImage:
		return limits.Images, true
	default:
		return 0, false
	}
}

func lowestFiniteLimit(cfg config.PlanConfig) int {
	lowest, found := 0, false
	for _, limits := range cfg.Plans {
		for _, v := range []int{limits.Articles, limits.Outlines, limits.Images} {
			if v == Unlimited {
				continue
			}
			if !found || v < lowest {
				lowest, found = v, true
			}
		}
	}
	return lowest
}
