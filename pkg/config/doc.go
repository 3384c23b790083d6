// Package config loads typed configuration from environment variables.
//
// Structs describe their variables with caarlos0/env tags; dotenv files are
// read with joho/godotenv. Each configuration type is parsed once per process
// and cached:
//
//	type Config struct {
//		HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Tests that change the environment call ResetCache before loading again.
package config
