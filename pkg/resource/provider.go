// Package resource decouples stages from where their content lives. Stages
// address content through string locators and a Provider; the pipeline core
// never touches the filesystem itself.
package resource

import (
	"context"
	"path"
	"strings"
)

// Provider lists, reads and checks content addressed by locators.
type Provider interface {
	// List returns every leaf locator under loc, descending recursively. A
	// leaf locator lists as itself; a missing one lists as nothing.
	List(ctx context.Context, loc string) ([]string, error)
	// Read returns the content at loc. Absent or unreadable content yields
	// false, not an error.
	Read(ctx context.Context, loc string) (string, bool)
	// Exists reports whether loc addresses anything.
	Exists(ctx context.Context, loc string) bool
	// IsLocator reports whether s plausibly is a locator at all.
	IsLocator(s string) bool
}

// Writer is implemented by providers that accept content.
type Writer interface {
	Write(ctx context.Context, loc, content string) error
}

// IsLocator is the shared locator heuristic: s has no newline and either
// contains a path separator or ends in an extension.
func IsLocator(s string) bool {
	if s == "" || strings.Contains(s, "\n") {
		return false
	}
	if strings.Contains(s, "/") {
		return true
	}
	return path.Ext(s) != ""
}
