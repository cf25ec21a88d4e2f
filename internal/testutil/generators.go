package testutil

import (
	"github.com/gsoc2/novu/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
)

// GenCategory generates known rate-limit categories.
func GenCategory() gopter.Gen {
	return gen.OneConstOf(domain.CategoryTrigger, domain.CategoryConfiguration, domain.CategoryGlobal)
}

// GenBaseLimit generates base limits, zero included.
func GenBaseLimit() gopter.Gen {
	return gen.IntRange(0, 100000)
}

// GenBurstAllowance generates non-negative burst allowances up to +300%.
func GenBurstAllowance() gopter.Gen {
	return gen.Float64Range(0, 3)
}

// GenDefaultConfiguration generates valid default configurations.
func GenDefaultConfiguration() gopter.Gen {
	return gopter.CombineGens(
		GenBurstAllowance(),
		gen.IntRange(1, 3600),
	).Map(func(vals []interface{}) domain.DefaultConfiguration {
		return domain.DefaultConfiguration{
			BurstAllowance:        vals[0].(float64),
			WindowDurationSeconds: vals[1].(int),
		}
	})
}
