// Package config loads the engine configuration and the application
// inventory.
//
// Engine settings come from config.yaml in the configuration directory,
// merged over defaults and then overridden by CONVERGE_* environment
// variables. Applications are defined one per YAML file in the
// configured apps directory; the load is all-or-nothing so the engine
// never starts with a partial inventory.
package config
