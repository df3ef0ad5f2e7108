package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanManifestPath turns a manifest path token such as "./usr/bin"
// into the root-anchored form "/usr/bin". A single leading "." marker
// is stripped; the result never escapes the root.
func CleanManifestPath(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(token, 0) {
		return "", fmt.Errorf("path contains null byte")
	}
	p := strings.TrimPrefix(token, ".")
	if p == "" {
		return "/", nil
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf(
			"path %q does not start with ./ or /", token,
		)
	}
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		return "/", nil
	}
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	return "/" + CleanRelPath(rel), nil
}

func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains null byte")
	}
	if path.IsAbs(p) {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return fmt.Errorf("path resolves to current directory")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf(
			"path escapes base directory: %s", p,
		)
	}
	return nil
}

func CleanRelPath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return p
}

// RootRelative converts a root-anchored manifest path into the name
// os.Root methods expect: "." for the root, otherwise a relative path.
func RootRelative(manifestPath string) string {
	rel := strings.TrimPrefix(path.Clean("/"+manifestPath), "/")
	if rel == "" {
		return "."
	}
	return filepath.FromSlash(rel)
}
