// Package config provides configuration loading and validation for the
// captioning service. Settings come from a YAML file; credentials come from
// the environment, optionally populated from a .env file.
package config
