// Package config loads the YAML service configuration, overlays secrets
// from the environment (.env files included) and owns the table of
// runtime-adjustable parameters with their validated ranges.
package config
