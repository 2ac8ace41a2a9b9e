package destination

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrCollisionLimit = errors.New("no free file name within collision limit")

const fallbackName = "download"

var unsafeChars = regexp.MustCompile(`[\x00-\x1f<>:"|?*\\/]+`)

// Resolver picks a download path that does not collide with an existing
// filesystem entry at the time of the check.
type Resolver struct {
	// Exists reports whether something is present at path.
	Exists func(path string) (bool, error)
	// MaxAttempts caps the number of numbered candidates tried; 0 means no cap.
	MaxAttempts int
}

func New(maxAttempts int) *Resolver {
	return &Resolver{Exists: lstatExists, MaxAttempts: maxAttempts}
}

func lstatExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Resolve returns dir/suggested when nothing is there, otherwise the first
// free "stem (n).ext" for n = 1, 2, ...
func (r *Resolver) Resolve(dir, suggested string) (string, error) {
	exists := r.Exists
	if exists == nil {
		exists = lstatExists
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("error resolving directory %s: %w", dir, err)
	}
	name := SanitizeName(suggested)
	candidate := filepath.Join(absDir, name)
	taken, err := exists(candidate)
	if err != nil {
		return "", fmt.Errorf("error checking %s: %w", candidate, err)
	}
	if !taken {
		return candidate, nil
	}
	stem, ext := SplitName(name)
	for n := 1; r.MaxAttempts == 0 || n <= r.MaxAttempts; n++ {
		candidate = filepath.Join(absDir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		taken, err = exists(candidate)
		if err != nil {
			return "", fmt.Errorf("error checking %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrCollisionLimit, name, r.MaxAttempts)
}

// SplitName splits a file name into stem and extension. A leading dot is
// part of the stem, so ".bashrc" has no extension.
func SplitName(name string) (string, string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" || strings.Trim(stem, ".") == "" {
		return name, ""
	}
	return stem, ext
}

// SanitizeName reduces a server- or user-supplied name to a single safe path
// element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndex(name, "/")+1:]
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, ". ")
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}
