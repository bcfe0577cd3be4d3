package technique

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vurakit/lexveil/pkg/pii"
)

// DateLevel is how much of a date survives generalization.
type DateLevel string

const (
	DateYear   DateLevel = "year"   // XX/XX/2023
	DateMonth  DateLevel = "month"  // XX/03/2023
	DateDecade DateLevel = "decade" // XX/XX/2020s
)

// AmountLevel is the bucket size used to generalize currency amounts.
type AmountLevel string

const (
	AmountThousands    AmountLevel = "thousands"     // R$ 15.000,00+
	AmountTenThousands AmountLevel = "ten_thousands" // R$ 10.000,00+
	AmountRange        AmountLevel = "range"         // R$ 10.000 - R$ 50.000
)

var (
	dateRe   = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	amountRe = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+|\d+`)
	digitsRe = regexp.MustCompile(`\d+`)

	brl = message.NewPrinter(language.BrazilianPortuguese)
)

func generalize(value string, cat pii.Category, opts Options) (string, error) {
	switch cat {
	case pii.CatDate:
		return GeneralizeDate(value, opts.DateLevel)
	case pii.CatAmount:
		return GeneralizeAmount(value, opts.AmountLevel)
	case pii.CatAddress:
		return GeneralizeAddress(value), nil
	}
	return "", fmt.Errorf("%w: generalize for %s", ErrUnsupported, cat)
}

// GeneralizeDate drops the day, and depending on level the month or the
// exact year, of a dd/mm/yyyy date. An empty level means DateYear.
func GeneralizeDate(value string, level DateLevel) (string, error) {
	m := dateRe.FindStringSubmatch(value)
	if m == nil {
		return "", fmt.Errorf("not a dd/mm/yyyy date")
	}
	switch level {
	case DateMonth:
		month, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("XX/%02d/%s", month, m[3]), nil
	case DateDecade:
		return fmt.Sprintf("XX/XX/%s0s", m[3][:3]), nil
	case DateYear, "":
		return "XX/XX/" + m[3], nil
	}
	return "", fmt.Errorf("unknown date level %q", level)
}

// GeneralizeAmount rounds a pt-BR currency amount down to a bucket.
// Centavos are ignored. An empty level means AmountThousands.
func GeneralizeAmount(value string, level AmountLevel) (string, error) {
	whole := value
	if i := strings.IndexByte(whole, ','); i >= 0 {
		whole = whole[:i]
	}
	num := amountRe.FindString(whole)
	if num == "" {
		return "", fmt.Errorf("no amount in value")
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(num, ".", ""), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse amount: %w", err)
	}

	switch level {
	case AmountThousands, "":
		return brl.Sprintf("R$ %d,00+", n/1000*1000), nil
	case AmountTenThousands:
		return brl.Sprintf("R$ %d,00+", n/10000*10000), nil
	case AmountRange:
		switch {
		case n < 10000:
			return "R$ 0 - R$ 10.000", nil
		case n < 50000:
			return "R$ 10.000 - R$ 50.000", nil
		case n < 100000:
			return "R$ 50.000 - R$ 100.000", nil
		default:
			return "R$ 100.000+", nil
		}
	}
	return "", fmt.Errorf("unknown amount level %q", level)
}

// GeneralizeAddress keeps the street type and name but replaces every
// number: "Rua das Flores, nº 123" becomes "Rua das Flores, nº XXX".
func GeneralizeAddress(value string) string {
	return digitsRe.ReplaceAllString(value, "XXX")
}
