package detector

import (
	"math"
	"regexp"

	"github.com/vurakit/lexveil/pkg/pii"
)

// Name confidence model
const (
	nameBase        = 0.70
	nameCommonBonus = 0.20
	nameStrictBonus = 0.10
	nameCueBonus    = 0.15
	nameCap         = 0.98

	minNameWords = 2
	maxNameWords = 6
)

type candidate struct {
	Match
	pass int
}

// pass is one detection strategy. Passes only read the text; merging and
// filtering happen in Detect.
type pass func(text string) []candidate

func byCategory(patterns []pii.Pattern, cats ...pii.Category) []pii.Pattern {
	var out []pii.Pattern
	for _, p := range patterns {
		for _, c := range cats {
			if p.Category == c {
				out = append(out, p)
			}
		}
	}
	return out
}

// patternPass matches fixed-shape values and runs each pattern's validator.
func patternPass(patterns []pii.Pattern) pass {
	return func(text string) []candidate {
		var out []candidate
		for _, p := range patterns {
			for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
				if !Isolated(text, loc[0], loc[1]) {
					continue
				}
				value := text[loc[0]:loc[1]]
				if p.Validate != nil && !p.Validate(value) {
					continue
				}
				out = append(out, candidate{Match: Match{
					Type:       p.Category,
					Value:      value,
					Start:      loc[0],
					End:        loc[1],
					Confidence: p.Confidence,
				}})
			}
		}
		return out
	}
}

type nameStrategy int

const (
	strategyStrict nameStrategy = iota
	strategyFlexible
	strategyMixed
	strategyContextual
)

// namePass runs the all-caps, mixed-case and contextual name strategies.
func namePass(lex *pii.Lexicon) pass {
	regexes := []struct {
		re       *regexp.Regexp
		strategy nameStrategy
	}{
		{pii.UpperNameStrict, strategyStrict},
		{pii.UpperNameFlexible, strategyFlexible},
		{pii.MixedCaseName, strategyMixed},
	}

	return func(text string) []candidate {
		var out []candidate
		for _, r := range regexes {
			for _, loc := range r.re.FindAllStringIndex(text, -1) {
				if c, ok := nameCandidate(lex, text, loc[0], loc[1], r.strategy); ok {
					out = append(out, c)
				}
			}
		}
		for _, m := range pii.ContextualName.FindAllStringSubmatchIndex(text, -1) {
			if c, ok := nameCandidate(lex, text, m[2], m[3], strategyContextual); ok {
				out = append(out, c)
			}
		}
		return out
	}
}

type span struct {
	start, end int
}

// nameCandidate trims denylisted words and connectives off both edges of
// text[start:end], validates what is left and scores it.
func nameCandidate(lex *pii.Lexicon, text string, start, end int, strategy nameStrategy) (candidate, bool) {
	words := wordSpans(text, start, end)

	drop := func(w span) bool {
		word := text[w.start:w.end]
		return lex.IsConnective(word) || lex.IsNonName(word)
	}
	for len(words) > 0 && drop(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && drop(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return candidate{}, false
	}

	start, end = words[0].start, words[len(words)-1].end
	if !Isolated(text, start, end) {
		return candidate{}, false
	}
	value := text[start:end]

	count, common := 0, false
	for _, w := range words {
		word := text[w.start:w.end]
		if lex.IsConnective(word) {
			continue
		}
		if !pii.ValidNameWord(word) || lex.IsNonName(word) {
			return candidate{}, false
		}
		if lex.IsCommonName(word) {
			common = true
		}
		count++
	}
	if count < minNameWords || count > maxNameWords {
		return candidate{}, false
	}
	if lex.HasStructureKeyword(value) || lex.IsNonNamePhrase(value) {
		return candidate{}, false
	}

	conf := nameBase
	if common {
		conf += nameCommonBonus
	}
	if strategy == strategyStrict && count >= 3 {
		conf += nameStrictBonus
	}
	if strategy == strategyContextual {
		conf += nameCueBonus
	}
	conf = math.Min(math.Round(conf*100)/100, nameCap)

	return candidate{Match: Match{
		Type:       pii.CatPersonName,
		Value:      value,
		Start:      start,
		End:        end,
		Confidence: conf,
	}}, true
}

// wordSpans splits text[start:end] on spaces and tabs, returning absolute offsets.
func wordSpans(text string, start, end int) []span {
	var out []span
	i := start
	for i < end {
		for i < end && (text[i] == ' ' || text[i] == '\t') {
			i++
		}
		j := i
		for j < end && text[j] != ' ' && text[j] != '\t' {
			j++
		}
		if j > i {
			out = append(out, span{i, j})
		}
		i = j
	}
	return out
}
