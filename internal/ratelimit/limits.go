package ratelimit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	"gopkg.in/yaml.v3"
)

// TenantDirectory maps organization ids to their service level.
type TenantDirectory map[string]domain.ServiceLevel

type tenantFile struct {
	Organizations []struct {
		ID           string `yaml:"id"`
		ServiceLevel string `yaml:"service_level"`
	} `yaml:"organizations"`
}

// LoadTenants reads a YAML tenant directory:
//
//	organizations:
//	  - id: 64a...
//	    service_level: business
//
// An empty path yields an empty directory.
func LoadTenants(path string) (TenantDirectory, error) {
	if path == "" {
		return TenantDirectory{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	return ParseTenants(raw)
}

// ParseTenants decodes a YAML tenant directory.
func ParseTenants(raw []byte) (TenantDirectory, error) {
	var file tenantFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	dir := make(TenantDirectory, len(file.Organizations))
	for _, org := range file.Organizations {
		level := domain.ServiceLevel(org.ServiceLevel)
		if org.ID == "" || !level.Valid() {
			return nil, fmt.Errorf("invalid tenant entry id=%q service_level=%q", org.ID, org.ServiceLevel)
		}
		dir[org.ID] = level
	}
	return dir, nil
}

type limitsSnapshot struct {
	defaults     domain.DefaultConfiguration
	defaultLevel domain.ServiceLevel
	overrides    map[string]map[domain.Category]int
	tenants      TenantDirectory
}

// ConfigLimits resolves base limits from configuration. Precedence:
// environment override, organization service level, default service level.
// Update swaps the whole snapshot, so a reload applies to the next call.
type ConfigLimits struct {
	snapshot atomic.Pointer[limitsSnapshot]
}

// NewConfigLimits creates a provider from cfg and tenants.
func NewConfigLimits(cfg config.RateLimitConfig, tenants TenantDirectory) *ConfigLimits {
	c := &ConfigLimits{}
	c.store(cfg, tenants)
	return c
}

// Update replaces configuration, keeping the current tenant directory.
func (c *ConfigLimits) Update(cfg config.RateLimitConfig) {
	c.store(cfg, c.snapshot.Load().tenants)
}

// UpdateTenants replaces the tenant directory.
func (c *ConfigLimits) UpdateTenants(tenants TenantDirectory) {
	current := *c.snapshot.Load()
	current.tenants = tenants
	c.snapshot.Store(&current)
}

func (c *ConfigLimits) store(cfg config.RateLimitConfig, tenants TenantDirectory) {
	overrides := make(map[string]map[domain.Category]int, len(cfg.EnvironmentOverrides))
	for env, categories := range cfg.EnvironmentOverrides {
		limits := make(map[domain.Category]int, len(categories))
		for category, limit := range categories {
			limits[domain.Category(category)] = limit
		}
		overrides[strings.ToLower(env)] = limits
	}

	level := domain.ServiceLevel(cfg.DefaultServiceLevel)
	if !level.Valid() {
		level = domain.ServiceLevelFree
	}

	c.snapshot.Store(&limitsSnapshot{
		defaults:     cfg.Defaults(),
		defaultLevel: level,
		overrides:    overrides,
		tenants:      tenants,
	})
}

// BaseLimit returns the requests-per-window limit of category.
func (c *ConfigLimits) BaseLimit(_ context.Context, category domain.Category, environmentID, organizationID string) (int, error) {
	if !category.Valid() {
		return 0, domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("unknown rate limit category %q", category), nil)
	}

	s := c.snapshot.Load()
	// Viper lowercases map keys read from files and env.
	if limit, ok := s.overrides[strings.ToLower(environmentID)][category]; ok {
		return limit, nil
	}

	level, ok := s.tenants[organizationID]
	if !ok {
		level = s.defaultLevel
	}
	return domain.ServiceLevelLimits[level][category], nil
}

// DefaultConfiguration returns the current shared defaults.
func (c *ConfigLimits) DefaultConfiguration() domain.DefaultConfiguration {
	return c.snapshot.Load().defaults
}
