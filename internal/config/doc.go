// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and MEDSTOCK_-prefixed environment
// variables. It provides type-safe access to the settings needed by the
// server, the stores, the vision client and the analysis workers.
package config
