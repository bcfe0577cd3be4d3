package pii

import (
	"regexp"
	"unicode"
)

// Name regexes. Words are joined by spaces or tabs only so a match never
// crosses a line break. \p{Lu}/\p{Ll} cover accented Portuguese letters.
var (
	// UpperNameStrict: 2-6 all-caps words, uppercase connectives allowed between them.
	UpperNameStrict = regexp.MustCompile(`\p{Lu}{2,}(?:[ \t]+(?:(?:D[AEO]S?|E)[ \t]+)?\p{Lu}{2,}){1,5}`)

	// UpperNameFlexible: consecutive all-caps words, no connectives.
	UpperNameFlexible = regexp.MustCompile(`\p{Lu}{2,}(?:[ \t]+\p{Lu}{2,})+`)

	// MixedCaseName: capitalized words joined by optional lowercase connectives.
	MixedCaseName = regexp.MustCompile(`\p{Lu}\p{Ll}+(?:[ \t]+(?:(?:da|de|do|dos|das|e|van|von|del|della|di)[ \t]+)?\p{Lu}\p{Ll}+)+`)

	// ContextualName: a labeling cue followed by a separator and the name,
	// captured in group 1 up to punctuation, end of line, or the first
	// lowercase word that is not a connective.
	ContextualName = regexp.MustCompile(`(?i:\b(?:nome|sr\.?|sra\.?|senhor|senhora|contratante|contratad[oa]|cliente|parte|requerente|requerid[oa]|autora?|r[ée]u|r[ée]|outorgante|outorgad[oa]|locador[a]?|locat[áa]ri[oa]|testemunha|funcion[áa]ri[oa]|supervisora?|advogad[oa]))(?:[ \t]*:[ \t]*|[ \t]+)(\p{Lu}[\p{L}'\-]+(?:[ \t]+(?:(?:da|de|do|dos|das|e|DA|DE|DO|DOS|DAS|E)[ \t]+)?\p{Lu}[\p{L}'\-]+){1,5})`)
)

// ValidNameWord reports whether word can be part of a personal name:
// at least 2 letters, no digits, not punctuation only.
func ValidNameWord(word string) bool {
	letters := 0
	for _, r := range word {
		switch {
		case unicode.IsDigit(r):
			return false
		case unicode.IsLetter(r):
			letters++
		case r == '\'' || r == '-':
		default:
			return false
		}
	}
	return letters >= 2
}
