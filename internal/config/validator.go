// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, so the binaries never run
// with partial, malformed, or missing configuration.
//
// Besides the built-in rules, one custom rule is registered here:
// `dialect`, which accepts exactly the names database.ByName understands.
//
// Notes
// -----
//   • Two spaces after periods.

package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/yanizio/tenancy/internal/database"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	_ = val.RegisterValidation("dialect", func(fl validator.FieldLevel) bool {
		_, err := database.ByName(fl.Field().String())
		return err == nil
	})
	return val
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
