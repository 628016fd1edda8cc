// Package fixtures provides canned producer messages for tests.
package fixtures

import (
	"embed"
	"io/fs"
	"sort"
	"testing"
)

//go:embed testdata/*
var files embed.FS

// Fixture names
const (
	PlainText  = "plain.txt"
	Document   = "document.json"
	PushBody   = "push.json"
	Malformed  = "malformed.json"
	ArrayValue = "array.json"
	Unicode    = "unicode.txt"
)

// Load returns the raw content of a fixture.
func Load(t testing.TB, name string) []byte {
	t.Helper()

	content, err := files.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("Failed to load fixture %s: %v", name, err)
	}
	return content
}

// LoadString returns a fixture as a string.
func LoadString(t testing.TB, name string) string {
	t.Helper()
	return string(Load(t, name))
}

// Names lists every available fixture.
func Names() []string {
	entries, err := fs.ReadDir(files, "testdata")
	if err != nil {
		panic(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
