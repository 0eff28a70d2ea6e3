// Package derive renders secondary files from the merged configuration. A
// table of rules, usually read from a JSONC file, names for each output the
// subtree or paths it projects and the format it is written in: env files
// for docker compose, shell-sourceable files, or the subtree re-encoded as
// YAML, JSON or TOML.
package derive
