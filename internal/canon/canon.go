// Package canon folds raw detector labels onto a fixed vocabulary of
// canonical entity names.
package canon

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9-]{3,}$`)

// Canonicalizer maps raw labels to canonical labels. It is safe for
// concurrent use; the tables are never mutated after construction.
type Canonicalizer struct {
	tables *Tables
}

// New returns a Canonicalizer over tables. Nil tables use DefaultTables.
func New(tables *Tables) *Canonicalizer {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Canonicalizer{tables: tables}
}

// Tables returns the vocabulary backing the canonicalizer.
func (c *Canonicalizer) Tables() *Tables {
	return c.tables
}

// Canonicalize returns the canonical form of raw. The result is a fixed
// point: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func (c *Canonicalizer) Canonicalize(raw string) string {
	text := strings.TrimSpace(norm.NFKC.String(raw))
	if text == "" {
		return ""
	}

	// Alphanumeric markers such as hull numbers are identities, not categories.
	if IsCode(text) {
		return strings.ToUpper(text)
	}

	text = clean(text)
	if canonical, ok := c.lookup(text); ok {
		return canonical
	}

	if singular, ok := singularize(text); ok {
		if canonical, ok := c.lookup(singular); ok {
			return canonical
		}
		return singular
	}

	return text
}

// lookup applies the table driven rules to an already cleaned label.
func (c *Canonicalizer) lookup(text string) (string, bool) {
	if canonical, ok := c.tables.Synonyms[text]; ok {
		return canonical, true
	}
	if canonical, ok := c.tables.Abbreviations[text]; ok {
		return canonical, true
	}
	for _, rule := range c.tables.Compounds {
		if rule.matches(text) {
			return rule.Canonical, true
		}
	}
	return "", false
}

// IsCode reports whether label looks like an alphanumeric identifier with
// both letters and digits.
func IsCode(label string) bool {
	if !codePattern.MatchString(label) {
		return false
	}
	return strings.ContainsFunc(label, unicode.IsDigit) && strings.ContainsFunc(label, unicode.IsLetter)
}

// clean lower-cases and collapses whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// singularize strips a simple plural "s" from the last word. Words of
// three letters or fewer and words ending in "ss" are left alone, so the
// result never ends in "s" or a space and cannot be stripped again.
func singularize(text string) (string, bool) {
	last := text[strings.LastIndexByte(text, ' ')+1:]
	if len(last) <= 3 || !strings.HasSuffix(last, "s") || strings.HasSuffix(last, "ss") {
		return "", false
	}
	return text[:len(text)-1], true
}
