// Package defaults provides embedded starter files for the storefront
// init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example harness configuration.
//
//go:embed storefront.example.yaml
var ConfigYAML []byte

// EnvFile is the example .env with every recognized variable.
//
//go:embed env.example
var EnvFile []byte
