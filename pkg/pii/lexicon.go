package pii

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon holds the curated word lists used by name detection. It is
// loaded from versioned YAML so the lists can change without touching
// detection logic. All lookups fold case and accents.
type Lexicon struct {
	Version           string   `yaml:"version"`
	Connectives       []string `yaml:"connectives"`
	FirstNames        []string `yaml:"first_names"`
	LastNames         []string `yaml:"last_names"`
	NonNameWords      []string `yaml:"non_name_words"`
	NonNamePhrases    []string `yaml:"non_name_phrases"`
	StructureKeywords []string `yaml:"structure_keywords"`

	connectives map[string]bool
	names       map[string]bool
	nonNames    map[string]bool
	phrases     map[string]bool
	keywords    []string
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// DefaultLexicon returns the lexicon embedded in the binary.
func DefaultLexicon() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := ParseLexicon(defaultLexicon)
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon: %v", err))
		}
		defaultLex = lex
	})
	return defaultLex
}

// LoadLexicon reads a YAML lexicon from r.
func LoadLexicon(r io.Reader) (*Lexicon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// LoadLexiconFile reads a YAML lexicon from disk.
func LoadLexiconFile(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()
	return LoadLexicon(f)
}

// ParseLexicon decodes YAML lexicon data and builds the lookup indexes.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if len(lex.Connectives) == 0 {
		return nil, fmt.Errorf("parse lexicon: connectives list is empty")
	}
	lex.index()
	return &lex, nil
}

func (l *Lexicon) index() {
	l.connectives = foldSet(l.Connectives)
	l.names = foldSet(l.FirstNames)
	for k := range foldSet(l.LastNames) {
		l.names[k] = true
	}
	l.nonNames = foldSet(l.NonNameWords)
	l.phrases = foldSet(l.NonNamePhrases)
	l.keywords = make([]string, 0, len(l.StructureKeywords))
	for _, k := range l.StructureKeywords {
		l.keywords = append(l.keywords, Fold(k))
	}
}

// IsConnective reports whether word is a grammatical connective (da, de, dos...).
func (l *Lexicon) IsConnective(word string) bool {
	return l.connectives[Fold(word)]
}

// IsCommonName reports whether word is a common Brazilian first or last name.
func (l *Lexicon) IsCommonName(word string) bool {
	return l.names[Fold(word)]
}

// IsNonName reports whether word belongs to the institutional/legal denylist.
func (l *Lexicon) IsNonName(word string) bool {
	return l.nonNames[Fold(word)]
}

// IsNonNamePhrase reports whether the whole candidate is a known non-name phrase.
func (l *Lexicon) IsNonNamePhrase(s string) bool {
	return l.phrases[Fold(strings.Join(strings.Fields(s), " "))]
}

// HasStructureKeyword reports whether s contains a document-structure
// keyword (contrato, anexo, cláusula...).
func (l *Lexicon) HasStructureKeyword(s string) bool {
	folded := Fold(s)
	for _, k := range l.keywords {
		if strings.Contains(folded, k) {
			return true
		}
	}
	return false
}

// Fold upper-cases s and strips diacritics: "Cláusula" -> "CLAUSULA".
func Fold(s string) string {
	return strings.ToUpper(StripAccents(s))
}

// StripAccents removes diacritics but keeps case: "João" -> "Joao".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func foldSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[Fold(w)] = true
	}
	return m
}
