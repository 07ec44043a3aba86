// Package config loads the YAML runtime configuration of AgentHive, applies
// defaults for every optional field and resolves secrets from the
// environment.
package config
