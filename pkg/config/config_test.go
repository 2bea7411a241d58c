package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SIGNING_KEY", "")

	cfg, err := Load("tenantgate")
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.JWT.ExpirationHours)
	assert.Equal(t, "free", cfg.DefaultPlan)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.NotEmpty(t, cfg.JWT.SigningKey, "development falls back to a local key")
	assert.Equal(t, PlanLimits{MaxUsers: 5, MaxProjects: 3}, cfg.Plans["free"])
}

func TestLoadRequiresSigningKeyInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")

	_, err := Load("tenantgate")
	require.Error(t, err)
}

func TestLoadPlanOverrides(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "k")
	t.Setenv("PLAN_PRO_MAX_USERS", "40")
	t.Setenv("DEFAULT_PLAN", "PRO")

	cfg, err := Load("tenantgate")
	require.NoError(t, err)
	assert.Equal(t, "pro", cfg.DefaultPlan)
	assert.Equal(t, 40, cfg.Plans["pro"].MaxUsers)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "k")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load("tenantgate")
	require.Error(t, err)
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "k")

	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err := Load("tenantgate")
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.168.1.0/24 ")
	cfg, err = Load("tenantgate")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, cfg.Server.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.1")
	_, err = Load("tenantgate")
	assert.Error(t, err)
}
