// Package application provides application initialization and dependency wiring.
// It loads the derived output rules, builds the merger and the output store,
// and runs the single-shot merge sequence: load the default layer, seed the
// user layer and record the hardware node id when enabled, overlay the user
// and forced layers, then write the merged config, derived outputs and debug
// copy.
package application
