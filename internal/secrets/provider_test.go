package secrets_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/officeai/privacy-gateway/internal/secrets"
)

func TestChainOrderFileBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "API_KEY"), []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv("API_KEY", "from-env")

	chain := secrets.DefaultChain(dir)
	value, err := chain.Resolve("API_KEY")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if value != "from-file" {
		t.Fatalf("expected file value to win, got %q", value)
	}
}

func TestChainFallsBackToEnv(t *testing.T) {
	t.Setenv("ONLY_IN_ENV", "env-value")

	chain := secrets.DefaultChain(t.TempDir())
	value, err := chain.Resolve("ONLY_IN_ENV")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if value != "env-value" {
		t.Fatalf("unexpected value: %q", value)
	}
}

func TestChainMissIsHardFailure(t *testing.T) {
	chain := secrets.Chain{secrets.StaticProvider{}}
	if _, err := chain.Resolve("NOWHERE"); !errors.Is(err, secrets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaticProviderEmptyValueIsMiss(t *testing.T) {
	chain := secrets.Chain{
		secrets.StaticProvider{"KEY": ""},
		secrets.StaticProvider{"KEY": "fallback"},
	}
	value, err := chain.Resolve("KEY")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if value != "fallback" {
		t.Fatalf("empty value should fall through, got %q", value)
	}
}

func TestResolveOptional(t *testing.T) {
	chain := secrets.Chain{secrets.StaticProvider{"A": "1"}}
	if got := chain.ResolveOptional("A"); got != "1" {
		t.Fatalf("unexpected value: %q", got)
	}
	if got := chain.ResolveOptional("B"); got != "" {
		t.Fatalf("expected empty for miss, got %q", got)
	}
}
