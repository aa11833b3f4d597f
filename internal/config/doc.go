// Package config loads gatescan settings.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file, and GATESCAN_* environment variables. The merged result is checked
// against an embedded CUE schema before use.
package config
