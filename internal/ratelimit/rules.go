package ratelimit

import (
	"math"
	"strings"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
)

const (
	MinCost   = 1
	MaxCost   = 20
	MinWindow = time.Second
)

type windowDefaults struct {
	limit  int
	window time.Duration
}

var tierWindowDefaults = map[models.Tier]windowDefaults{
	models.TierFree:       {limit: 20, window: time.Minute},
	models.TierPro:        {limit: 80, window: time.Minute},
	models.TierEnterprise: {limit: 200, window: time.Minute},
}

// Built-in costs keyed by "METHOD:endpoint"
var baseRules = map[string]int{
	"GET:/api/data":       1,
	"GET:/api/heavy-data": 5,
}

func windowDefaultsFor(tier models.Tier) windowDefaults {
	if d, ok := tierWindowDefaults[tier]; ok {
		return d
	}
	return tierWindowDefaults[models.TierFree]
}

// Resolve maps a user policy and a route to the directive that governs the request.
// It never fails: out of range inputs are clamped or replaced by defaults.
func Resolve(policy *models.Policy, endpoint, method string) Directive {
	method = normalizeMethod(method)

	var (
		tier      models.Tier
		algorithm models.Algorithm
		rules     []models.CustomRule
	)
	if policy != nil {
		tier = policy.Tier
		algorithm = policy.Algorithm
		rules = policy.CustomRules
	}

	if !algorithm.Valid() {
		algorithm = models.AlgorithmTokenBucket
	}

	defaults := windowDefaultsFor(tier)
	directive := Directive{
		Algorithm:   algorithm,
		Cost:        baseCost(method, endpoint),
		WindowLimit: defaults.limit,
		Window:      defaults.window,
	}

	rule := findCustomRule(rules, endpoint, method)
	if rule == nil {
		return directive
	}

	if rule.Cost != nil {
		directive.Cost = ClampCost(*rule.Cost)
	}
	if rule.WindowLimit != nil && *rule.WindowLimit >= 1 {
		directive.WindowLimit = *rule.WindowLimit
	}
	if rule.WindowMs != nil {
		if w := time.Duration(*rule.WindowMs) * time.Millisecond; w >= MinWindow {
			directive.Window = w
		}
	}

	return directive
}

// ClampCost rounds a cost up to an integer within [MinCost, MaxCost].
// NaN and infinities become MinCost.
func ClampCost(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return MinCost
	}
	c := math.Ceil(v)
	if c < MinCost {
		return MinCost
	}
	if c > MaxCost {
		return MaxCost
	}
	return int(c)
}

func baseCost(method, endpoint string) int {
	if cost, ok := baseRules[method+":"+endpoint]; ok {
		return cost
	}
	return MinCost
}

func findCustomRule(rules []models.CustomRule, endpoint, method string) *models.CustomRule {
	for i := range rules {
		if rules[i].Endpoint == endpoint && normalizeMethod(rules[i].Method) == method {
			return &rules[i]
		}
	}
	return nil
}

func normalizeMethod(method string) string {
	if method == "" {
		return "GET"
	}
	return strings.ToUpper(method)
}
