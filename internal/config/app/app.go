// Package app holds top-level application identity and runtime-mode
// configuration, mirroring the teacher's internal/config/app package.
package app

// Config is the application-identity configuration. Validated as part
// of the aggregate config.Config via go-playground/validator struct
// tags, not by a hand-rolled method here.
type Config struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
	Debug       bool   `mapstructure:"debug"`
}
