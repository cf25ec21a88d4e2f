package domain

import (
	"fmt"
	"math"
	"net/url"
	"time"
)

// Category groups API routes sharing one rate-limit bucket per environment.
type Category string

const (
	CategoryTrigger       Category = "trigger"
	CategoryConfiguration Category = "configuration"
	CategoryGlobal        Category = "global"
)

// Categories lists every known category.
var Categories = []Category{CategoryTrigger, CategoryConfiguration, CategoryGlobal}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ServiceLevel is the commercial tier of an organization.
type ServiceLevel string

const (
	ServiceLevelFree       ServiceLevel = "free"
	ServiceLevelBusiness   ServiceLevel = "business"
	ServiceLevelEnterprise ServiceLevel = "enterprise"
	ServiceLevelUnlimited  ServiceLevel = "unlimited"
)

// ServiceLevelLimits holds the base limit (requests per window) of every
// category for each service level.
var ServiceLevelLimits = map[ServiceLevel]map[Category]int{
	ServiceLevelFree: {
		CategoryTrigger:       60,
		CategoryConfiguration: 20,
		CategoryGlobal:        30,
	},
	ServiceLevelBusiness: {
		CategoryTrigger:       600,
		CategoryConfiguration: 200,
		CategoryGlobal:        300,
	},
	ServiceLevelEnterprise: {
		CategoryTrigger:       6000,
		CategoryConfiguration: 2000,
		CategoryGlobal:        3000,
	},
	ServiceLevelUnlimited: {
		CategoryTrigger:       60000,
		CategoryConfiguration: 20000,
		CategoryGlobal:        30000,
	},
}

// Valid reports whether l is a known service level.
func (l ServiceLevel) Valid() bool {
	_, ok := ServiceLevelLimits[l]
	return ok
}

const keyPrefix = "api_rate_limit"

// RateLimitKey identifies one token bucket.
type RateLimitKey struct {
	EnvironmentID string
	Category      Category
}

// String renders the persisted key:
//
//	api_rate_limit:{e=<environment>}:c=<category>
//
// Both parts are query-escaped so separators inside identifiers cannot
// produce colliding keys. The braces form a Redis Cluster hash tag, keeping
// an environment's buckets and its index set in one slot.
func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s:%s:c=%s", keyPrefix, environmentTag(k.EnvironmentID), url.QueryEscape(string(k.Category)))
}

// EnvironmentPrefix returns the prefix shared by every bucket of the environment.
func EnvironmentPrefix(environmentID string) string {
	return fmt.Sprintf("%s:%s:", keyPrefix, environmentTag(environmentID))
}

// EnvironmentIndexKey returns the set holding every bucket key created for the environment.
func EnvironmentIndexKey(environmentID string) string {
	return EnvironmentPrefix(environmentID) + "index"
}

func environmentTag(environmentID string) string {
	return "{e=" + url.QueryEscape(environmentID) + "}"
}

// DefaultConfiguration supplies the parameters shared by every category.
type DefaultConfiguration struct {
	BurstAllowance        float64 `mapstructure:"burst_allowance" validate:"gte=0"`
	WindowDurationSeconds int     `mapstructure:"window_duration_seconds" validate:"gte=1"`
}

// Window returns the window as a duration.
func (c DefaultConfiguration) Window() time.Duration {
	return time.Duration(c.WindowDurationSeconds) * time.Second
}

// BurstLimit returns floor(baseLimit * (1 + burstAllowance)).
func BurstLimit(baseLimit int, burstAllowance float64) int {
	return int(math.Floor(float64(baseLimit) * (1 + burstAllowance)))
}

// RefillRate returns the tokens added per window.
func RefillRate(baseLimit, windowDurationSeconds int) int {
	return baseLimit * windowDurationSeconds
}

// Decision is the outcome of one rate-limit evaluation.
type Decision struct {
	Allowed               bool  `json:"allowed"`
	Limit                 int   `json:"limit"`
	Remaining             int   `json:"remaining"`
	ResetAtEpochMillis    int64 `json:"resetAtEpochMillis"`
	WindowDurationSeconds int   `json:"windowDurationSeconds"`
	BurstLimit            int   `json:"burstLimit"`
	RefillRate            int   `json:"refillRate"`
}

// RetryAfter returns the wait until ResetAtEpochMillis, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := time.UnixMilli(d.ResetAtEpochMillis).Sub(now)
	if wait <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}
