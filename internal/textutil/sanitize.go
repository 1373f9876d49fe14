package textutil

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyName is returned by CheckFileName for blank names.
var ErrEmptyName = errors.New("name is empty")

// unsafeFileNameChars lists characters the server refuses in file names.
const unsafeFileNameChars = "/\\:*?\"<>|"

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// NormalizeName trims whitespace and applies Unicode NFC composition so that
// visually identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// CheckFileName reports whether name can be used as a server-side file name.
// Names must be non-empty after trimming and free of path separators, reserved
// punctuation, control characters, and the "." / ".." entries.
func CheckFileName(name string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	for _, r := range name {
		if strings.ContainsRune(unsafeFileNameChars, r) {
			return fmt.Errorf("name %q contains forbidden character %q", name, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("name %q contains control character %U", name, r)
		}
	}
	return nil
}

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = NormalizeName(name)
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// StripExtension removes the final extension from name. Dotfiles such as
// ".hidden" keep their leading dot.
func StripExtension(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
