// Package config loads typed configuration structs from environment variables.
//
// Structs are parsed with github.com/caarlos0/env/v11 tags. The first Load call
// reads a .env file from the working directory when present (godotenv never
// overrides variables already set in the process environment). Parsed values
// are cached per type, so repeated Load calls for the same struct return the
// same snapshot.
//
// A struct implementing Validator is validated after parsing; a failing
// Validate is returned wrapped in ErrInvalidConfig and nothing is cached.
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
