package config

import "context"

// SecretProvider resolves secret references into plaintext values. The loader
// uses it for variables that point at a secret rather than holding one.
type SecretProvider interface {
	// Resolve returns a map of reference -> plaintext for every reference it
	// could resolve. Unresolvable references are omitted.
	Resolve(ctx context.Context, refs []string) (map[string]string, error)
}
