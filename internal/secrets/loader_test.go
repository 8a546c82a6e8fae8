package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "key")
	if err := os.WriteFile(file, []byte("  from-file \n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("CAREER_SYNC_TEST_KEY", " from-env ")

	tests := []struct {
		name string
		src  Source
		want string
	}{
		{name: "file wins", src: Source{File: file, Env: "CAREER_SYNC_TEST_KEY", Value: "inline"}, want: "from-file"},
		{name: "env before inline", src: Source{Env: "CAREER_SYNC_TEST_KEY", Value: "inline"}, want: "from-env"},
		{name: "inline", src: Source{Value: " inline "}, want: "inline"},
		{name: "unset env falls back to inline", src: Source{Env: "CAREER_SYNC_UNSET", Value: "inline"}, want: "inline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("   "), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := Load(Source{Name: "openai api key", File: empty})
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty file error, got %v", err)
	}

	_, err = Load(Source{Name: "openai api key"})
	if err == nil || !strings.Contains(err.Error(), "openai api key is not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}

	got, err := LoadOptional(Source{Name: "dsn"})
	if err != nil || got != "" {
		t.Fatalf("expected empty optional secret, got %q, %v", got, err)
	}
}
