// Package config resolves the merger's own runtime settings (where the layers
// live, where outputs go, which optional steps run) from CLI flags and
// CONFIG_MERGER_* environment variables with precedence: CLI flags >
// Environment variables > Defaults. It does not read the layered
// configuration itself; see package merger for that.
package config
