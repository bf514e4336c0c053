package server

import (
	"strings"
	"testing"
)

// FuzzIsSafeName tests the name validation function with various inputs
func FuzzIsSafeName(f *testing.F) {
	f.Add("20261016T142530Z")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("name/with/slash")
	f.Add("name\\with\\backslash")
	f.Add(".staging-abc")
	f.Add("unicode한글name")
	f.Add("name\x00null")

	f.Fuzz(func(t *testing.T, name string) {
		result := isSafeName(name)
		if name == "" && result {
			t.Error("empty name should not be safe")
		}
		if strings.Contains(name, "..") && result {
			t.Errorf("name with .. should not be safe: %q", name)
		}
		if strings.ContainsAny(name, "/\\") && result {
			t.Errorf("name with path separators should not be safe: %q", name)
		}
		if result != isSafeName(name) {
			t.Errorf("isSafeName inconsistent for %q", name)
		}
	})
}

// FuzzSanitizeBase tests base path sanitization
func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")

	f.Fuzz(func(t *testing.T, basePath string) {
		result := sanitizeBase(basePath)
		if result != "" {
			if !strings.HasPrefix(result, "/") {
				t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
			}
			if strings.HasSuffix(result, "/") {
				t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
			}
		}
		trimmed := strings.TrimSpace(basePath)
		if (trimmed == "" || trimmed == "/") && result != "" {
			t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
		}
		if result != sanitizeBase(basePath) {
			t.Errorf("sanitizeBase inconsistent for %q", basePath)
		}
	})
}
