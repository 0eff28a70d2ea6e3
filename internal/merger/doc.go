// Package merger implements the layered configuration merge. It loads the
// default, user and forced layers, overlays them in precedence order, renders
// the merged document together with its derived outputs and writes the result
// to the output directory.
package merger
