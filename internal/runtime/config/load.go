package config

import (
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

var dotenvLoaded sync.Once

// Load reads the configuration from the process environment. A .env file in
// the working directory is applied first when present; variables already set
// in the environment win.
func Load() (*Config, error) {
	dotenvLoaded.Do(func() {
		// a missing .env file is fine
		_ = godotenv.Load()
	})
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the supplied variables only.
func LoadFrom(environment map[string]string) (*Config, error) {
	if environment == nil {
		environment = map[string]string{}
	}
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	// envDefault already filled what was unset
	cfg.defaulted = true
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	return &cfg, nil
}
