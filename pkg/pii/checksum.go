package pii

import (
	"fmt"
	"strings"
)

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ValidCPF validates the two modulo-11 check digits of a CPF. Punctuation
// is ignored; runs of a single repeated digit are rejected.
func ValidCPF(s string) bool {
	d := Digits(s)
	if len(d) != 11 || repeated(d) {
		return false
	}
	d1, d2 := CPFCheckDigits(d[:9])
	return int(d[9]-'0') == d1 && int(d[10]-'0') == d2
}

// CPFCheckDigits computes both check digits for a 9-digit CPF base.
func CPFCheckDigits(base string) (int, int) {
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(base[i]-'0') * (10 - i)
	}
	d1 := checkDigit(sum)

	sum = 0
	for i := 0; i < 9; i++ {
		sum += int(base[i]-'0') * (11 - i)
	}
	sum += d1 * 2
	return d1, checkDigit(sum)
}

// ValidCNPJ validates the two modulo-11 check digits of a CNPJ.
func ValidCNPJ(s string) bool {
	d := Digits(s)
	if len(d) != 14 || repeated(d) {
		return false
	}
	d1, d2 := CNPJCheckDigits(d[:12])
	return int(d[12]-'0') == d1 && int(d[13]-'0') == d2
}

// CNPJCheckDigits computes both check digits for a 12-digit CNPJ base.
func CNPJCheckDigits(base string) (int, int) {
	sum := 0
	for i, w := range cnpjWeights1 {
		sum += int(base[i]-'0') * w
	}
	d1 := checkDigit(sum)

	sum = 0
	for i := 0; i < 12; i++ {
		sum += int(base[i]-'0') * cnpjWeights2[i]
	}
	sum += d1 * cnpjWeights2[12]
	return d1, checkDigit(sum)
}

// FormatCPF renders 11 digits as XXX.XXX.XXX-XX. Other input is returned unchanged.
func FormatCPF(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return fmt.Sprintf("%s.%s.%s-%s", d[:3], d[3:6], d[6:9], d[9:])
}

// FormatCNPJ renders 14 digits as XX.XXX.XXX/XXXX-XX. Other input is returned unchanged.
func FormatCNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return s
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", d[:2], d[2:5], d[5:8], d[8:12], d[12:])
}

func checkDigit(sum int) int {
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

func repeated(d string) bool {
	for i := 1; i < len(d); i++ {
		if d[i] != d[0] {
			return false
		}
	}
	return true
}
