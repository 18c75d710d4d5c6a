// Package config reads service configuration from environment variables
// into structs tagged for caarlos0/env.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from the process environment. Fields use `env` and
// `envDefault` tags:
//
//	type Config struct {
//	    HTTPPort int `env:"REVIEW_HTTP_PORT" envDefault:"8080"`
//	}
func Load(cfg any) error {
	return parse(cfg, env.Options{})
}

// LoadFrom fills cfg from environ only; the process environment is not read.
// Variables missing from environ take their envDefault.
func LoadFrom(cfg any, environ map[string]string) error {
	if environ == nil {
		environ = map[string]string{}
	}
	return parse(cfg, env.Options{Environment: environ})
}

func parse(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
