// Package processor runs one anonymization pass over a document: detect,
// resolve a replacement per value, rewrite the text and summarize.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vurakit/lexveil/internal/detector"
	"github.com/vurakit/lexveil/internal/logging"
	"github.com/vurakit/lexveil/internal/session"
	"github.com/vurakit/lexveil/internal/technique"
	"github.com/vurakit/lexveil/pkg/pii"
)

// ErrProcessing means the run failed as a whole. No text is returned with
// it, and the input must not be treated as anonymized.
var ErrProcessing = errors.New("anonymization failed")

// Summary counts what a run found and replaced.
type Summary struct {
	TotalPatterns int                  `json:"total_patterns"`
	ByType        map[pii.Category]int `json:"by_type"`
	Replacements  int                  `json:"replacements"`
	Fallbacks     int                  `json:"fallbacks"`
}

// Result is the output of one run.
type Result struct {
	ID                   string             `json:"id"`
	AnonymizedText       string             `json:"anonymized_text"`
	DetectedPatterns     []detector.Match   `json:"detected_patterns"`
	AnonymizationResults []technique.Result `json:"anonymization_results"`
	Summary              Summary            `json:"summary"`
	Duration             time.Duration      `json:"duration"`
}

// Processor is safe for concurrent use; every call owns its own session.
type Processor struct {
	detector *detector.Detector
	logger   *slog.Logger
	source   string
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for processing events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithSource tags processing events with where the text came from.
func WithSource(source string) Option {
	return func(p *Processor) { p.source = source }
}

// New creates a Processor. A nil detector means detector.New().
func New(det *detector.Detector, opts ...Option) *Processor {
	if det == nil {
		det = detector.New()
	}
	p := &Processor{
		detector: det,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Detector returns the detector the processor runs.
func (p *Processor) Detector() *detector.Detector {
	return p.detector
}

// occurrence is one span of text to rewrite.
type occurrence struct {
	cat         pii.Category
	value       string
	start, end  int
	replacement string
}

// Process anonymizes text. On failure it returns ErrProcessing and no
// partial output.
func (p *Processor) Process(ctx context.Context, text string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	id := uuid.NewString()

	res, sessID, err := p.run(text, opts)
	event := logging.ProcessingEvent{
		ProcessingID: id,
		SessionID:    sessID,
		Source:       p.source,
		Duration:     time.Since(started),
	}
	if err != nil {
		event.Status = "failed"
		event.Error = err.Error()
		event.Log(p.logger)
		return nil, err
	}

	res.ID = id
	res.Duration = event.Duration

	event.Status = "completed"
	event.Patterns = res.Summary.TotalPatterns
	event.Fallbacks = res.Summary.Fallbacks
	event.ByType = make(map[string]int, len(res.Summary.ByType))
	for cat, n := range res.Summary.ByType {
		event.ByType[string(cat)] = n
	}
	event.Log(p.logger)

	return res, nil
}

func (p *Processor) run(text string, opts Options) (res *Result, sessID string, err error) {
	sess, err := session.New()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProcessing, err)
	}
	defer sess.Close()
	sessID = sess.ID()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrProcessing, r)
		}
	}()

	matches := p.detector.Detect(text)
	occs := make([]occurrence, len(matches))
	for i, m := range matches {
		occs[i] = occurrence{cat: m.Type, value: m.Value, start: m.Start, end: m.End}
	}
	occs = append(occs, sweep(text, occs)...)

	results := resolve(sess, occs, opts)

	out, err := rewrite(text, occs)
	if err != nil {
		return nil, sessID, err
	}

	summary := Summary{
		TotalPatterns: len(matches),
		ByType:        make(map[pii.Category]int),
		Replacements:  len(occs),
	}
	for _, m := range matches {
		summary.ByType[m.Type]++
	}
	for _, r := range results {
		if r.Fallback {
			summary.Fallbacks++
		}
	}

	if matches == nil {
		matches = []detector.Match{}
	}
	if results == nil {
		results = []technique.Result{}
	}
	return &Result{
		AnonymizedText:       out,
		DetectedPatterns:     matches,
		AnonymizationResults: results,
		Summary:              summary,
	}, sessID, nil
}

// resolve picks a replacement for every occurrence, category by category.
// With KeepConsistency the technique runs once per distinct value and the
// first result is reused; otherwise it runs once per occurrence.
func resolve(sess *session.Session, occs []occurrence, opts Options) []technique.Result {
	type valueKey struct {
		cat   pii.Category
		value string
	}

	order := append(append([]pii.Category{}, pii.Categories...), pii.ExtendedCategories...)
	byCat := make(map[pii.Category][]int)
	for i, o := range occs {
		byCat[o.cat] = append(byCat[o.cat], i)
	}

	topts := opts.techniqueOptions()
	resolved := make(map[valueKey]string)
	var results []technique.Result

	for _, cat := range order {
		idx := byCat[cat]
		sort.Slice(idx, func(a, b int) bool { return occs[idx[a]].start < occs[idx[b]].start })

		for _, i := range idx {
			k := valueKey{cat, occs[i].value}
			if opts.KeepConsistency {
				if r, ok := resolved[k]; ok {
					occs[i].replacement = r
					continue
				}
			}
			r := technique.Apply(sess, occs[i].value, opts.TechniqueFor(cat), cat, topts)
			occs[i].replacement = r.Anonymized
			resolved[k] = r.Anonymized
			results = append(results, r)
		}
	}
	return results
}

// sweep finds literal repeats of detected values that the detector did not
// report, longest values first, skipping anything already claimed.
func sweep(text string, occs []occurrence) []occurrence {
	type valueKey struct {
		cat   pii.Category
		value string
	}

	seen := make(map[valueKey]bool)
	var values []valueKey
	for _, o := range occs {
		k := valueKey{o.cat, o.value}
		if !seen[k] {
			seen[k] = true
			values = append(values, k)
		}
	}
	sort.SliceStable(values, func(i, j int) bool { return len(values[i].value) > len(values[j].value) })

	claimed := make([][2]int, 0, len(occs))
	for _, o := range occs {
		claimed = append(claimed, [2]int{o.start, o.end})
	}
	overlaps := func(start, end int) bool {
		for _, c := range claimed {
			if start < c[1] && c[0] < end {
				return true
			}
		}
		return false
	}

	var extra []occurrence
	for _, v := range values {
		re := regexp.MustCompile(regexp.QuoteMeta(v.value))
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlaps(loc[0], loc[1]) || !detector.Isolated(text, loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			extra = append(extra, occurrence{cat: v.cat, value: v.value, start: loc[0], end: loc[1]})
		}
	}
	return extra
}

// rewrite substitutes every occurrence left to right in one pass, so
// replaced text is never scanned again.
func rewrite(text string, occs []occurrence) (string, error) {
	sorted := make([]occurrence, len(occs))
	copy(sorted, occs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, o := range sorted {
		if o.start < pos || o.end < o.start || o.end > len(text) {
			return "", fmt.Errorf("%w: invalid span [%d,%d)", ErrProcessing, o.start, o.end)
		}
		b.WriteString(text[pos:o.start])
		b.WriteString(o.replacement)
		pos = o.end
	}
	b.WriteString(text[pos:])
	return b.String(), nil
}
