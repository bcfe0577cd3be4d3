package technique

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vurakit/lexveil/pkg/pii"
)

var wordRe = regexp.MustCompile(`\S+`)

func partialMask(value string, cat pii.Category) (string, error) {
	switch cat {
	case pii.CatTaxID:
		return MaskCPF(value)
	case pii.CatCompanyID:
		return MaskCNPJ(value)
	case pii.CatPhone:
		return MaskPhone(value), nil
	case pii.CatEmail:
		return MaskEmail(value)
	case pii.CatPersonName:
		return MaskName(value), nil
	}
	return "", fmt.Errorf("%w: partial mask for %s", ErrUnsupported, cat)
}

// MaskCPF keeps the middle and check digits: ***.444.***-35.
func MaskCPF(value string) (string, error) {
	d := pii.Digits(value)
	if len(d) != 11 {
		return "", fmt.Errorf("cpf has %d digits", len(d))
	}
	return fmt.Sprintf("***.%s.***-%s", d[3:6], d[9:]), nil
}

// MaskCNPJ keeps the second group, the branch and the check digits:
// **.222.***/0001-81.
func MaskCNPJ(value string) (string, error) {
	d := pii.Digits(value)
	if len(d) != 14 {
		return "", fmt.Errorf("cnpj has %d digits", len(d))
	}
	return fmt.Sprintf("**.%s.***/%s-%s", d[2:5], d[8:12], d[12:]), nil
}

// MaskPhone keeps the area code and the last four digits. A leading +55
// country code is kept as a prefix. Numbers of any other length have
// every digit masked.
func MaskPhone(value string) string {
	d := pii.Digits(value)
	prefix := ""
	if (len(d) == 12 || len(d) == 13) && strings.HasPrefix(d, "55") {
		prefix = "+55 "
		d = d[2:]
	}
	switch len(d) {
	case 11:
		return fmt.Sprintf("%s(%s) *****-%s", prefix, d[:2], d[7:])
	case 10:
		return fmt.Sprintf("%s(%s) ****-%s", prefix, d[:2], d[6:])
	}
	return maskRunes(value, unicode.IsDigit)
}

// MaskEmail keeps the first and last character of the local part and the
// whole domain. Local parts of two characters or fewer are fully masked.
func MaskEmail(value string) (string, error) {
	at := strings.LastIndexByte(value, '@')
	if at <= 0 {
		return "", fmt.Errorf("email without local part or @")
	}
	local, domain := []rune(value[:at]), value[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain, nil
	}
	return string(local[0]) + strings.Repeat("*", len(local)-2) + string(local[len(local)-1]) + domain, nil
}

// MaskName keeps the first and last letter of every word longer than two
// characters: "Maria Silva" becomes "M***a S***a".
func MaskName(value string) string {
	return wordRe.ReplaceAllStringFunc(value, func(w string) string {
		r := []rune(w)
		if len(r) <= 2 {
			return w
		}
		return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
	})
}

// TotalMask hides every character. With preserve set only letters and
// digits are replaced, so separators and spacing survive.
func TotalMask(value string, preserve bool) string {
	if preserve {
		return maskRunes(value, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		})
	}
	return strings.Repeat("*", utf8.RuneCountInString(value))
}

func maskRunes(value string, hide func(rune) bool) string {
	return strings.Map(func(r rune) rune {
		if hide(r) {
			return '*'
		}
		return r
	}, value)
}

// NameInitials reduces a name to its initials, skipping connectives:
// "Maria da Silva Santos" becomes "M.S.S.".
func NameInitials(value string) string {
	lex := pii.DefaultLexicon()
	var b strings.Builder
	for _, w := range strings.Fields(value) {
		if lex.IsConnective(w) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteByte('.')
	}
	return b.String()
}

// GenericName picks a placeholder name sized to the original.
func GenericName(value string) string {
	lex := pii.DefaultLexicon()
	n := 0
	for _, w := range strings.Fields(value) {
		if !lex.IsConnective(w) {
			n++
		}
	}
	switch {
	case n <= 1:
		return "Fulano"
	case n == 2:
		return "Fulano de Tal"
	case n == 3:
		return "Fulano da Silva"
	default:
		return "Fulano de Tal Santos"
	}
}
