package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("OTP_EXPIRATION_MINUTES", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := FromEnv()

	assert.Equal(t, 5, cfg.OTP.ExpirationMinutes)
	assert.Equal(t, 5*time.Minute, cfg.OTP.Expiration())
	assert.Equal(t, 7*24*time.Hour, cfg.OTP.EmergencyTTL)
	assert.Equal(t, 24*time.Hour, cfg.OTP.SessionTTL)
	assert.Equal(t, StoreScylla, cfg.Store.Backend)
	assert.True(t, cfg.RequireClientToken)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OTP_EXPIRATION_MINUTES", "10")
	t.Setenv("SCYLLA_NODES", "a:9042, b:9042,")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("REQUIRE_CLIENT_TOKEN", "false")
	t.Setenv("PORT", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, 10, cfg.OTP.ExpirationMinutes)
	assert.Equal(t, []string{"a:9042", "b:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, 2*time.Hour, cfg.OTP.SessionTTL)
	assert.False(t, cfg.RequireClientToken)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: EnvDevelopment,
			Store:       StoreConfig{Backend: StoreMemory},
			SMS:         SMSConfig{Provider: SMSProviderLog},
			JWT:         JWTConfig{Secret: "secret"},
			OTP: OTPConfig{
				ExpirationMinutes: 5,
				EmergencyTTL:      time.Hour,
				SessionTTL:        time.Hour,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid development config", mutate: func(c *Config) {}},
		{name: "zero expiration", mutate: func(c *Config) { c.OTP.ExpirationMinutes = 0 }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "postgres" }, wantErr: true},
		{name: "memory store in production", mutate: func(c *Config) {
			c.Environment = EnvProduction
			c.SMS = SMSConfig{Provider: SMSProviderTwilio, TwilioAccountSID: "AC1", TwilioAuthToken: "t", TwilioFromNumber: "+1"}
		}, wantErr: true},
		{name: "twilio without credentials", mutate: func(c *Config) { c.SMS.Provider = SMSProviderTwilio }, wantErr: true},
		{name: "missing jwt key material", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{name: "scylla without ledger key", mutate: func(c *Config) {
			c.Store.Backend = StoreScylla
			c.Scylla.Nodes = []string{"localhost:9042"}
		}, wantErr: true},
		{name: "scylla with ledger key", mutate: func(c *Config) {
			c.Store.Backend = StoreScylla
			c.Scylla.Nodes = []string{"localhost:9042"}
			c.LedgerMasterKey = "key"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}
