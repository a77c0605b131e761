package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills the given struct from environment variables using `env` tags:
//
//	type Config struct {
//	    HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
//	    DBHost   string `env:"DB_HOST" envDefault:"localhost"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
