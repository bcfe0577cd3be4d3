package detector

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vurakit/lexveil/pkg/pii"
)

// Sensitivity controls detection aggressiveness
type Sensitivity int

const (
	SensitivityLow    Sensitivity = iota // only high-confidence matches
	SensitivityMedium                    // balanced
	SensitivityHigh                      // everything the passes find
)

// ParseSensitivity accepts low, medium or high.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SensitivityLow, nil
	case "medium", "":
		return SensitivityMedium, nil
	case "high":
		return SensitivityHigh, nil
	}
	return SensitivityMedium, fmt.Errorf("unknown sensitivity %q", s)
}

func (s Sensitivity) String() string {
	switch s {
	case SensitivityLow:
		return "low"
	case SensitivityHigh:
		return "high"
	default:
		return "medium"
	}
}

// Match is one detected sensitive value
type Match struct {
	Type       pii.Category `json:"type"`
	Value      string       `json:"value"`
	Start      int          `json:"start"`
	End        int          `json:"end"`
	Confidence float64      `json:"confidence"`
}

// Config configures the detector behavior
type Config struct {
	Sensitivity Sensitivity
	// MinConfidence overrides the Sensitivity threshold when > 0.
	MinConfidence float64
	// Extended enables date, amount and address detection.
	Extended  bool
	AllowList map[string]bool // values to never flag
	BlockList map[string]bool // values to flag regardless of confidence
	// Lexicon supplies the name word lists. Nil means the embedded one.
	Lexicon *pii.Lexicon
}

// DefaultConfig returns balanced detection settings
func DefaultConfig() Config {
	return Config{
		Sensitivity: SensitivityMedium,
	}
}

// Detector finds sensitive values in text. It holds no per-call state and
// is safe for concurrent use.
type Detector struct {
	passes []pass
	config Config
}

// New creates a Detector with the default configuration
func New() *Detector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Detector with custom configuration
func NewWithConfig(cfg Config) *Detector {
	if cfg.Lexicon == nil {
		cfg.Lexicon = pii.DefaultLexicon()
	}
	structured := pii.StructuredPatterns()

	// Pass order is the tie-breaker in overlap resolution.
	passes := []pass{
		patternPass(byCategory(structured, pii.CatCompanyID, pii.CatTaxID)),
		patternPass(byCategory(structured, pii.CatEmail)),
		patternPass(byCategory(structured, pii.CatPhone)),
		namePass(cfg.Lexicon),
	}
	if cfg.Extended {
		passes = append(passes, patternPass(pii.ExtendedPatterns()))
	}

	return &Detector{
		passes: passes,
		config: cfg,
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// minConfidence returns the threshold for the given sensitivity
func minConfidence(s Sensitivity) float64 {
	switch s {
	case SensitivityLow:
		return 0.80
	case SensitivityHigh:
		return 0
	default:
		return 0.50
	}
}

// Detect runs every pass over text and returns the surviving matches
// sorted by Start. Matches never overlap.
func (d *Detector) Detect(text string) []Match {
	if text == "" {
		return nil
	}

	threshold := minConfidence(d.config.Sensitivity)
	if d.config.MinConfidence > 0 {
		threshold = d.config.MinConfidence
	}

	var cands []candidate
	for i, p := range d.passes {
		for _, c := range p(text) {
			// Allow list check
			if d.config.AllowList[c.Value] {
				continue
			}
			// Block list always matches regardless of confidence
			if c.Confidence < threshold && !d.config.BlockList[c.Value] {
				continue
			}
			c.pass = i
			cands = append(cands, c)
		}
	}

	cands = dedup(cands)
	cands = resolveOverlaps(cands)

	matches := make([]Match, len(cands))
	for i, c := range cands {
		matches[i] = c.Match
	}
	return matches
}

// dedup collapses candidates found by several passes at the same place and
// gives every occurrence of a value the highest confidence seen for it.
func dedup(cands []candidate) []candidate {
	type valueKey struct {
		cat   pii.Category
		value string
	}
	type spanKey struct {
		valueKey
		start, end int
	}

	best := make(map[valueKey]float64)
	for _, c := range cands {
		k := valueKey{c.Type, c.Value}
		if c.Confidence > best[k] {
			best[k] = c.Confidence
		}
	}

	seen := make(map[spanKey]bool)
	out := cands[:0]
	for _, c := range cands {
		k := spanKey{valueKey{c.Type, c.Value}, c.Start, c.End}
		if seen[k] {
			continue
		}
		seen[k] = true
		c.Confidence = best[k.valueKey]
		out = append(out, c)
	}
	return out
}

// resolveOverlaps keeps, among overlapping candidates, the one with the
// highest confidence. Ties go to the earlier pass, then the earlier start,
// then the longer value. The result is sorted by Start.
func resolveOverlaps(cands []candidate) []candidate {
	if len(cands) <= 1 {
		return cands
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.pass != b.pass {
			return a.pass < b.pass
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End-a.Start > b.End-b.Start
	})

	var kept []candidate
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if c.Start < k.End && k.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// Isolated reports whether text[start:end] is not glued to a letter or
// digit on either side. Go's \b only knows ASCII, so accented neighbours
// are checked here.
func Isolated(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
