package cache

import (
	"regexp"
	"strings"
	"testing"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9_.\-]*$`)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "tehran", want: "tehran"},
		{name: "keeps hyphen and dot", input: "remote-work.v2", want: "remote-work.v2"},
		{name: "non ascii and punctuation", input: "São Paulo, Brazil!!", want: "S_o_Paulo_Brazil_"},
		{name: "collapses underscores", input: "a___b  c", want: "a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeKey(tt.input, DefaultMaxKeyLength)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if !safeKey.MatchString(got) || strings.Contains(got, "__") {
				t.Fatalf("unsafe key %q", got)
			}
		})
	}
}

func TestSanitizeKeyLongInputs(t *testing.T) {
	prefix := strings.Repeat("x", 167)
	a := prefix + strings.Repeat("a", 333)
	b := prefix + strings.Repeat("b", 333)

	keyA := SanitizeKey(a, 200)
	keyB := SanitizeKey(b, 200)

	if len(keyA) > 200 || len(keyB) > 200 {
		t.Fatalf("keys exceed limit: %d, %d", len(keyA), len(keyB))
	}
	if keyA == keyB {
		t.Fatalf("expected distinct keys for distinct inputs")
	}

	hashSuffix := regexp.MustCompile(`_[0-9a-f]{32}$`)
	if !hashSuffix.MatchString(keyA) {
		t.Fatalf("expected md5 suffix, got %q", keyA)
	}
	if !strings.HasPrefix(keyA, prefix) {
		t.Fatalf("expected truncated prefix to be preserved")
	}
}
