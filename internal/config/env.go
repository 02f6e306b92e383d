package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the settings read only from the environment.
type Env struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	Debug        bool   `env:"SARTHI_DEBUG"`
	GlamourStyle string `env:"GLAMOUR_STYLE"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return e, nil
}
