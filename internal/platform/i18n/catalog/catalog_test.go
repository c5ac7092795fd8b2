package catalog

import (
	"testing"
	"testing/fstest"
)

func TestLoadEmbeddedHasExpectedLocales(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	for _, locale := range []string{BaseLocale, "pt-BR"} {
		if !bundle.HasLocale(locale) {
			t.Fatalf("expected locale %s", locale)
		}
		if got := len(bundle.NamespaceMessages(locale, "errors")); got == 0 {
			t.Fatalf("expected %s errors namespace messages", locale)
		}
	}
}

func TestEmbeddedLocalesCoverBaseKeys(t *testing.T) {
	bundle := Default()
	base := bundle.NamespaceMessages(BaseLocale, "errors")
	for _, locale := range bundle.Locales() {
		messages := bundle.NamespaceMessages(locale, "errors")
		for key := range base {
			if _, ok := messages[key]; !ok {
				t.Errorf("locale %s missing key %q", locale, key)
			}
		}
	}
}

func TestLoadFromFSRejectsMismatchedNamespace(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en-US/errors.yaml": {Data: []byte(`locale: "en-US"
namespace: "other"
messages:
  "A": "a"
`)},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected namespace mismatch error")
	}
}

func TestLoadFromFSRejectsDuplicateKeys(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en-US/errors.yaml": {Data: []byte(`locale: "en-US"
namespace: "errors"
messages:
  "A": "a"
  "A": "b"
`)},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/pt-BR/errors.yaml": {Data: []byte(`locale: "pt-BR"
namespace: "errors"
messages:
  "A": "a"
`)},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected missing base locale error")
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	bundle := Default()
	tests := []struct {
		requested string
		want      string
	}{
		{"", "en-US"},
		{"en-US", "en-US"},
		{"pt-BR", "pt-BR"},
		{"pt", "pt-BR"},
		{"pt-PT", "pt-BR"},
		{"fr-FR", "en-US"},
		{"fr-FR, pt-BR;q=0.8", "pt-BR"},
		{"!!", "en-US"},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			t.Parallel()
			if got := bundle.Match(tt.requested); got != tt.want {
				t.Fatalf("Match(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestNamespaceMessagesWithFallback(t *testing.T) {
	resolved, messages := Default().NamespaceMessagesWithFallback("fr-FR", "errors")
	if resolved != BaseLocale {
		t.Fatalf("resolved locale = %q, want %s", resolved, BaseLocale)
	}
	if len(messages) == 0 {
		t.Fatal("expected fallback errors namespace messages")
	}
}
