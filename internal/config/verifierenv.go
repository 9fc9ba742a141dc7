package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// VerifierEnv is an alternate, env-var-driven loader for the verifier role,
// for operators who run `cmd/via-node` as a verifier sidecar deployed the
// way the pack's envconfig-based services are (container image + env vars,
// no flag file). It covers the same fields as VerifierConfig plus the
// connection info a standalone verifier process needs.
type VerifierEnv struct {
	CoordinatorURL string `envconfig:"VIA_COORDINATOR_URL" required:"true"`
	SigningKeyID   string `envconfig:"VIA_SIGNING_KEY_ID" required:"true"`
	DatabaseDSN    string `envconfig:"VIA_DATABASE_DSN" required:"true"`
	LogLevel       string `envconfig:"VIA_LOG_LEVEL" default:"info"`
}

// LoadVerifierEnv reads the verifier sidecar configuration from the
// process environment.
func LoadVerifierEnv() (*VerifierEnv, error) {
	var cfg VerifierEnv
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing verifier env config: %w", err)
	}
	return &cfg, nil
}
