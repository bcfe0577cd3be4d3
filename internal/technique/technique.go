// Package technique turns one detected value into its replacement.
// Apply never fails: when a technique cannot be applied the value is
// totally masked and the Result is flagged as a fallback.
package technique

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/vurakit/lexveil/internal/session"
	"github.com/vurakit/lexveil/internal/synthetic"
	"github.com/vurakit/lexveil/pkg/pii"
)

// Technique identifies an anonymization method
type Technique string

const (
	MaskPartial Technique = "mask_partial"
	MaskTotal   Technique = "mask_total"
	Pseudonym   Technique = "pseudonym"
	Synthetic   Technique = "synthetic"
	Initials    Technique = "initials"
	Generic     Technique = "generic"
	Generalize  Technique = "generalize"
)

// ErrUnsupported is returned for a technique that is not legal for a category.
var ErrUnsupported = errors.New("unsupported technique")

var supported = map[pii.Category][]Technique{
	pii.CatTaxID:      {MaskPartial, MaskTotal, Pseudonym, Synthetic},
	pii.CatCompanyID:  {MaskPartial, MaskTotal, Pseudonym, Synthetic},
	pii.CatPersonName: {MaskPartial, MaskTotal, Pseudonym, Synthetic, Initials, Generic},
	pii.CatPhone:      {MaskPartial, MaskTotal, Pseudonym, Synthetic, Generic},
	pii.CatEmail:      {MaskPartial, MaskTotal, Pseudonym, Synthetic, Generic},
	pii.CatDate:       {Generalize, MaskTotal},
	pii.CatAmount:     {Generalize, MaskTotal},
	pii.CatAddress:    {Generalize, MaskTotal, Synthetic},
}

// Parse accepts a technique name. The short names used by the web form
// (partial, full) are accepted too.
func Parse(s string) (Technique, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mask_partial", "partial":
		return MaskPartial, true
	case "mask_total", "full", "total":
		return MaskTotal, true
	case "pseudonym":
		return Pseudonym, true
	case "synthetic":
		return Synthetic, true
	case "initials":
		return Initials, true
	case "generic":
		return Generic, true
	case "generalize", "generalization":
		return Generalize, true
	}
	return "", false
}

// Supports reports whether t is legal for cat.
func Supports(cat pii.Category, t Technique) bool {
	for _, s := range supported[cat] {
		if s == t {
			return true
		}
	}
	return false
}

// Allowed lists the techniques legal for cat.
func Allowed(cat pii.Category) []Technique {
	return append([]Technique(nil), supported[cat]...)
}

// Options are the run-wide flags that shape a replacement.
type Options struct {
	KeepConsistency    bool
	PreserveFormatting bool
	DateLevel          DateLevel
	AmountLevel        AmountLevel
}

// Result is one resolved substitution.
type Result struct {
	Original   string `json:"original"`
	Anonymized string `json:"anonymized"`
	Technique  string `json:"technique"`
	// Fallback is set when the requested technique could not be applied
	// and the value was totally masked instead.
	Fallback  bool      `json:"fallback,omitempty"`
	Requested Technique `json:"requested,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ID builds the "category/technique" identifier recorded in results.
func ID(cat pii.Category, t Technique) string {
	return fmt.Sprintf("%s/%s", cat, t)
}

// Apply replaces value using technique t. sess supplies pseudonym counters,
// the consistency map and the synthetic seed salt.
func Apply(sess *session.Session, value string, t Technique, cat pii.Category, opts Options) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = fallback(value, t, cat, opts, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := apply(sess, value, t, cat, opts)
	if err == nil && out == value && hasAlnum(value) {
		err = fmt.Errorf("%s left the value unchanged", t)
	}
	if err != nil {
		return fallback(value, t, cat, opts, err)
	}
	return Result{
		Original:   value,
		Anonymized: out,
		Technique:  ID(cat, t),
	}
}

func apply(sess *session.Session, value string, t Technique, cat pii.Category, opts Options) (string, error) {
	if !Supports(cat, t) {
		return "", fmt.Errorf("%w: %q for %s", ErrUnsupported, t, cat)
	}

	switch t {
	case MaskTotal:
		return TotalMask(value, opts.PreserveFormatting), nil
	case MaskPartial:
		return partialMask(value, cat)
	case Pseudonym:
		if sess == nil {
			return "", errors.New("pseudonym requires a session")
		}
		return sess.Pseudonym(cat, value, opts.KeepConsistency)
	case Synthetic:
		return syntheticValue(sess, value, cat, opts.KeepConsistency)
	case Initials:
		return NameInitials(value), nil
	case Generic:
		return genericValue(value, cat)
	case Generalize:
		return generalize(value, cat, opts)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, t)
}

func syntheticValue(sess *session.Session, value string, cat pii.Category, keep bool) (string, error) {
	if !keep {
		return synthetic.NewRandom().For(cat)
	}
	if sess == nil {
		return "", errors.New("consistent synthetic values require a session")
	}
	if prev, ok := sess.Lookup(cat, value); ok {
		return prev, nil
	}
	seed, err := sess.Seed(value)
	if err != nil {
		return "", err
	}
	out, err := synthetic.New(seed).For(cat)
	if err != nil {
		return "", err
	}
	if err := sess.Remember(cat, value, out); err != nil {
		return "", err
	}
	return out, nil
}

func genericValue(value string, cat pii.Category) (string, error) {
	switch cat {
	case pii.CatPersonName:
		return GenericName(value), nil
	case pii.CatPhone:
		return "(11) 99999-9999", nil
	case pii.CatEmail:
		return "contato@exemplo.com", nil
	}
	return "", fmt.Errorf("%w: generic for %s", ErrUnsupported, cat)
}

func fallback(value string, requested Technique, cat pii.Category, opts Options, err error) Result {
	return Result{
		Original:   value,
		Anonymized: TotalMask(value, opts.PreserveFormatting),
		Technique:  ID(cat, MaskTotal),
		Fallback:   true,
		Requested:  requested,
		Reason:     err.Error(),
	}
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
