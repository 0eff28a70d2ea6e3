// Package tree holds helpers over gopkg.in/yaml.v3 node trees: normalising a
// parsed document into a self-contained value tree, deep copies, dotted path
// lookup and deterministic encoding.
package tree
