package config

import (
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig provides the database and redis settings every service needs.
func minimalRequiredConfig() map[string]string {
	return map[string]string{
		"BIFROST_DB_HOST":     "localhost",
		"BIFROST_DB_PORT":     "5432",
		"BIFROST_DB_NAME":     "bifrost_test",
		"BIFROST_DB_USER":     "test_user",
		"BIFROST_DB_PASSWORD": "test_pass",
		"BIFROST_REDIS_HOST":  "localhost",
	}
}

// mergeEnvVars merges additional env vars with minimal required config
func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete valid production configuration.
func validProductionConfig() map[string]string {
	return map[string]string{
		"BIFROST_APP_ENV": "production",

		"BIFROST_DB_HOST":     "prod-db.example.com",
		"BIFROST_DB_PORT":     "5432",
		"BIFROST_DB_NAME":     "bifrost_prod",
		"BIFROST_DB_USER":     "prod_user",
		"BIFROST_DB_PASSWORD": "SuperSecure123!",
		"BIFROST_DB_SSL_MODE": "require",

		"BIFROST_REDIS_HOST":        "prod-redis.example.com",
		"BIFROST_REDIS_PORT":        "6379",
		"BIFROST_REDIS_PASSWORD":    "RedisSecure123!",
		"BIFROST_REDIS_TLS_ENABLED": "true",

		"BIFROST_SERVER_CONTROL_API_KEY_HASH":  "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
		"BIFROST_SERVER_CONTROL_TLS_ENABLED":   "true",
		"BIFROST_SERVER_CONTROL_TLS_CERT_FILE": "/certs/control-cert.pem",
		"BIFROST_SERVER_CONTROL_TLS_KEY_FILE":  "/certs/control-key.pem",
	}
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "Should use defaults when only database and redis are configured",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "bifrost", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8080", cfg.Server.Control.Port)
				assert.Equal(t, "8001", cfg.Server.Data.HTTPPort)
				assert.Equal(t, "50051", cfg.Server.Data.GRPCPort)
				assert.Equal(t, 60*time.Second, cfg.Decision.CacheTTL)
				assert.Equal(t, 500*time.Millisecond, cfg.Decision.StoreTimeout)
				assert.Equal(t, time.Second, cfg.Decision.RequestTimeout)
				assert.False(t, cfg.Decision.FailOpen)
				assert.True(t, cfg.Syncer.Enabled)
				assert.Equal(t, 30*time.Second, cfg.Syncer.Interval)
				assert.Equal(t, "9090", cfg.Observability.Port)
				assert.True(t, cfg.Redis.IsConfigured())
				assert.Equal(t, "localhost:6379", cfg.Redis.Address())
				assert.Equal(t, "bifrost:invalidate", cfg.Redis.Channel)
			},
		},
		{
			name: "Should load custom environment variables",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_NAME":                 "gray",
				"BIFROST_APP_ENV":                  "staging",
				"BIFROST_APP_LOG_LEVEL":            "debug",
				"BIFROST_APP_LOG_FORMAT":           "json",
				"BIFROST_SERVER_DATA_HTTP_PORT":    "9001",
				"BIFROST_DECISION_CACHE_TTL":       "15s",
				"BIFROST_DECISION_FAIL_OPEN":       "true",
				"BIFROST_DECISION_STORE_TIMEOUT":   "200ms",
				"BIFROST_SYNCER_INTERVAL":          "5s",
				"BIFROST_REDIS_HOST":               "cache.local",
				"BIFROST_OBSERVABILITY_PORT":       "9191",
				"BIFROST_DECISION_REQUEST_TIMEOUT": "2s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "gray", cfg.App.Name)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, "9001", cfg.Server.Data.HTTPPort)
				assert.Equal(t, 15*time.Second, cfg.Decision.CacheTTL)
				assert.True(t, cfg.Decision.FailOpen)
				assert.Equal(t, 200*time.Millisecond, cfg.Decision.StoreTimeout)
				assert.Equal(t, 2*time.Second, cfg.Decision.RequestTimeout)
				assert.Equal(t, 5*time.Second, cfg.Syncer.Interval)
				assert.Equal(t, "cache.local:6379", cfg.Redis.Address())
				assert.Equal(t, "9191", cfg.Observability.Port)
			},
		},
		{
			name:    "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_ENV": "invalid"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{"BIFROST_APP_LOG_LEVEL": "trace"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when database is missing",
			envVars: map[string]string{},
			wantErr: true,
		},
		{
			name: "Should fail validation when redis is missing in development",
			envVars: map[string]string{
				"BIFROST_DB_HOST":     "localhost",
				"BIFROST_DB_NAME":     "bifrost_test",
				"BIFROST_DB_USER":     "test_user",
				"BIFROST_DB_PASSWORD": "test_pass",
			},
			wantErr: true,
		},
		{
			name: "Should accept a redis URL instead of a host",
			envVars: map[string]string{
				"BIFROST_DB_HOST":     "localhost",
				"BIFROST_DB_NAME":     "bifrost_test",
				"BIFROST_DB_USER":     "test_user",
				"BIFROST_DB_PASSWORD": "test_pass",
				"BIFROST_REDIS_URL":   "redis://localhost:6379/1",
			},
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Redis.IsConfigured())
				assert.Equal(t, "redis://localhost:6379/1", cfg.Redis.URL)
			},
		},
		{
			name:    "Should fail validation when store timeout exceeds request timeout",
			envVars: mergeEnvVars(map[string]string{"BIFROST_DECISION_STORE_TIMEOUT": "3s"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on zero cache TTL",
			envVars: mergeEnvVars(map[string]string{"BIFROST_DECISION_CACHE_TTL": "0s"}),
			wantErr: true,
		},
		{
			name: "Should fail validation when data plane ports collide",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_DATA_HTTP_PORT": "7000",
				"BIFROST_SERVER_DATA_GRPC_PORT": "7000",
			}),
			wantErr: true,
		},
		{
			name:    "Should accept a complete production configuration",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EnvironmentProduction, cfg.App.Environment)
				assert.True(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should fail in production without an API key hash",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				delete(cfg, "BIFROST_SERVER_CONTROL_API_KEY_HASH")
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail in production with an insecure database SSL mode",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["BIFROST_DB_SSL_MODE"] = "disable"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail in production without redis",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				delete(cfg, "BIFROST_REDIS_HOST")
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail in production when redis TLS is disabled",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["BIFROST_REDIS_TLS_ENABLED"] = "false"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail when TLS is enabled without certificates",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_CONTROL_TLS_ENABLED": "true",
			}),
			wantErr: true,
		},
		{
			name: "Should fail on malformed API key hash",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_CONTROL_API_KEY_HASH": "not-a-hash",
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.envVars)

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	t.Parallel()

	t.Run("Should prefer the explicit URL", func(t *testing.T) {
		t.Parallel()
		cfg := DatabaseConfig{URL: "postgres://u:p@db:5432/rules", Host: "ignored"}
		assert.Equal(t, "postgres://u:p@db:5432/rules", cfg.ConnectionString())
	})

	t.Run("Should build from components and escape credentials", func(t *testing.T) {
		t.Parallel()
		cfg := DatabaseConfig{
			Host:            "db",
			Port:            "5432",
			Name:            "rules",
			User:            "gray",
			Password:        "p@ss:word",
			SSLMode:         "disable",
			ApplicationName: "bifrost",
		}
		got := cfg.ConnectionString()
		assert.Contains(t, got, "postgres://gray:p%40ss%3Aword@db:5432/rules?")
		assert.Contains(t, got, "sslmode=disable")
		assert.Contains(t, got, "application_name=bifrost")
	})
}

func TestRedisConfig_ValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "plain", url: "redis://localhost:6379"},
		{name: "with db", url: "redis://localhost:6379/3"},
		{name: "tls scheme", url: "rediss://cache:6380/0"},
		{name: "bad scheme", url: "http://localhost:6379", wantErr: true},
		{name: "db out of range", url: "redis://localhost:6379/16", wantErr: true},
		{name: "db not a number", url: "redis://localhost:6379/abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := RedisConfig{URL: tt.url, Channel: "bifrost:invalidate", PoolSize: 10, MinIdleConns: 1}
			err := cfg.Validate("development")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
