// Package secrets resolves service credentials through an ordered provider
// chain: mounted secret file, then environment variable, then static
// fallback. The first provider that answers wins; a full miss is a hard
// failure.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no provider in the chain holds the secret.
var ErrNotFound = errors.New("secret not found")

// Provider answers lookups for one credential source.
type Provider interface {
	Lookup(name string) (string, bool)
}

// FileProvider reads secrets mounted as files in a directory, one file per
// secret name.
type FileProvider struct {
	Dir string
}

// Lookup reads Dir/name, trimming trailing whitespace.
func (p FileProvider) Lookup(name string) (string, bool) {
	if p.Dir == "" {
		return "", false
	}
	raw, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(string(raw))
	return value, value != ""
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct{}

// Lookup returns the non-empty value of the variable named name.
func (EnvProvider) Lookup(name string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(name))
	return value, value != ""
}

// StaticProvider serves fixed values, mainly for tests and local defaults.
type StaticProvider map[string]string

// Lookup returns the stored value for name.
func (p StaticProvider) Lookup(name string) (string, bool) {
	value, ok := p[name]
	return value, ok && value != ""
}

// Chain tries each provider in order.
type Chain []Provider

// DefaultChain resolves from a mounted secrets directory first, then the
// environment. An empty dir skips the file stage.
func DefaultChain(secretsDir string) Chain {
	return Chain{FileProvider{Dir: secretsDir}, EnvProvider{}}
}

// Resolve returns the first hit for name, or ErrNotFound when every
// provider misses.
func (c Chain) Resolve(name string) (string, error) {
	for _, p := range c {
		if value, ok := p.Lookup(name); ok {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ResolveOptional returns the first hit for name or the empty string.
func (c Chain) ResolveOptional(name string) string {
	value, err := c.Resolve(name)
	if err != nil {
		return ""
	}
	return value
}
