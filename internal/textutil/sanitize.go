package textutil

import (
	"html"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/kennygrant/sanitize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// SanitizeFileName turns an arbitrary name into a safe file name, keeping the
// lowercased extension. Accents are transliterated, separators become dashes,
// and any directory components are dropped. Returns "" when nothing survives.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.Trim(sanitize.BaseName(stem), "-.")
	if stem == "" {
		return ""
	}
	if ext != "" {
		ext = "." + strings.Trim(sanitize.BaseName(strings.TrimPrefix(ext, ".")), "-.")
		if ext == "." {
			ext = ""
		}
	}
	return stem + ext
}

// PathSegment converts an identifier into a single directory name. Case is
// preserved; path separators and other unsafe characters become underscores.
// Returns "unknown" for empty input.
func PathSegment(value string) string {
	value = strings.TrimSpace(norm.NFC.String(value))
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_' || r == '.':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		default:
			return '_'
		}
	}, value)
	mapped = strings.Trim(mapped, "._")
	if mapped == "" {
		return "unknown"
	}
	return mapped
}

// CleanDisplayName strips markup and entities from a platform-provided title
// and collapses whitespace.
func CleanDisplayName(value string) string {
	value = html.UnescapeString(sanitize.HTML(value))
	value = norm.NFC.String(value)
	return strings.Join(strings.Fields(value), " ")
}

// TitleCase renders a lowercase identifier such as "needs_conversion" as "Needs Conversion".
func TitleCase(value string) string {
	value = strings.NewReplacer("_", " ", "-", " ").Replace(value)
	return cases.Title(language.Und).String(value)
}
