package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateEnv(overrides map[string]string) func(string) string {
	base := map[string]string{
		EnvExecutionEnabled: "true",
		EnvExecutionConfirm: "true",
		EnvBrokerBaseURL:    PaperBaseURL,
		EnvBrokerAPIKey:     "key",
		EnvBrokerAPISecret:  "secret",
	}
	for k, v := range overrides {
		base[k] = v
	}
	return func(key string) string { return base[key] }
}

func TestCheckRefusals(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]string
		wantErr   error
	}{
		{"execution disabled", map[string]string{EnvExecutionEnabled: "false"}, ErrExecutionDisabled},
		{"execution unset", map[string]string{EnvExecutionEnabled: ""}, ErrExecutionDisabled},
		{"enabled is not literal true", map[string]string{EnvExecutionEnabled: "TRUE"}, ErrExecutionDisabled},
		{"confirm missing", map[string]string{EnvExecutionConfirm: ""}, ErrConfirmMissing},
		{"live endpoint refused", map[string]string{EnvBrokerBaseURL: "https://api.alpaca.markets"}, ErrNotPaperEndpoint},
		{"lookalike endpoint refused", map[string]string{EnvBrokerBaseURL: "https://paper-api.alpaca.markets.evil.example"}, ErrNotPaperEndpoint},
		{"missing key", map[string]string{EnvBrokerAPIKey: ""}, ErrMissingCredential},
		{"missing secret", map[string]string{EnvBrokerAPISecret: ""}, ErrMissingCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := LoadConfig(gateEnv(tc.overrides))
			err := Check(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)

			_, err = New(cfg, nil)
			assert.ErrorIs(t, err, tc.wantErr, "New must refuse for the same reason")
		})
	}
}

func TestCheckPassesWithAllGates(t *testing.T) {
	cfg := LoadConfig(gateEnv(nil))
	require.NoError(t, Check(cfg))

	client, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestPaperURLTrailingSlashAccepted(t *testing.T) {
	cfg := LoadConfig(gateEnv(map[string]string{EnvBrokerBaseURL: PaperBaseURL + "/"}))
	assert.NoError(t, Check(cfg))
}

func TestDefaultConfigurationRefuses(t *testing.T) {
	// The committed posture: no env set at all.
	cfg := LoadConfig(func(string) string { return "" })
	assert.Equal(t, PaperBaseURL, cfg.BaseURL, "unset base URL defaults to paper")
	assert.ErrorIs(t, Check(cfg), ErrExecutionDisabled)
}
