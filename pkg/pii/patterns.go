package pii

import (
	"regexp"
	"strings"
)

// Sensitive data category types
type Category string

const (
	CatTaxID      Category = "tax_id"
	CatCompanyID  Category = "company_id"
	CatPhone      Category = "phone"
	CatEmail      Category = "email"
	CatPersonName Category = "person_name"

	// Generalizable categories, only detected in extended mode
	CatDate    Category = "date"
	CatAmount  Category = "amount"
	CatAddress Category = "address"
)

// Categories lists the core categories in the order the orchestrator
// resolves them.
var Categories = []Category{CatTaxID, CatCompanyID, CatPersonName, CatPhone, CatEmail}

// ExtendedCategories lists the categories that are reduced in precision
// rather than replaced outright.
var ExtendedCategories = []Category{CatDate, CatAmount, CatAddress}

// PseudonymPrefix maps category to pseudonym prefix
var PseudonymPrefix = map[Category]string{
	CatTaxID:      "DOC",
	CatCompanyID:  "EMPRESA",
	CatPersonName: "PESSOA",
	CatPhone:      "TELEFONE",
	CatEmail:      "EMAIL",
	CatDate:       "DATA",
	CatAmount:     "VALOR",
	CatAddress:    "ENDERECO",
}

// ParseCategory accepts a category name in any case. The legacy names
// used by the web form (cpf, cnpj, name, names, phones, emails) are accepted too.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tax_id", "cpf":
		return CatTaxID, true
	case "company_id", "cnpj":
		return CatCompanyID, true
	case "phone", "phones":
		return CatPhone, true
	case "email", "emails":
		return CatEmail, true
	case "person_name", "name", "names":
		return CatPersonName, true
	case "date", "dates":
		return CatDate, true
	case "amount", "amounts":
		return CatAmount, true
	case "address", "addresses":
		return CatAddress, true
	}
	return "", false
}

// Pattern holds a compiled regex and its category
type Pattern struct {
	Regex      *regexp.Regexp
	Category   Category
	Label      string
	Confidence float64
	// Validate is an optional post-check on the matched value.
	Validate func(string) bool
}

// StructuredPatterns returns the identifier, phone and email patterns.
// Order matters: checksum-validated identifiers come first so they win
// precedence ties in the detector.
func StructuredPatterns() []Pattern {
	return []Pattern{
		{
			// CNPJ: 14 digits, head office branch 0001, optional punctuation
			Regex:      regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?0001-?\d{2}\b`),
			Category:   CatCompanyID,
			Label:      "CNPJ",
			Confidence: 0.96,
			Validate:   ValidCNPJ,
		},
		{
			// CPF: 11 digits, optional punctuation
			Regex:      regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
			Category:   CatTaxID,
			Label:      "CPF",
			Confidence: 0.95,
			Validate:   ValidCPF,
		},
		{
			// Email. The local part may hold accented letters; without a
			// leading \b the match starts at the real word start and the
			// detector checks the boundary.
			Regex:      regexp.MustCompile(`[\p{L}\p{N}._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Category:   CatEmail,
			Label:      "E-mail",
			Confidence: 0.90,
		},
		{
			// Phone: +55, (DD), mobile 9, 4-5 digit prefix, 4 digit suffix.
			// No leading \b so "(11)" and "+55" can open the match; the
			// detector checks boundaries instead.
			Regex:      regexp.MustCompile(`(?:\+55[ ]?)?(?:\(\d{2}\)[ ]?)?(?:9[ ]?)?\d{4,5}-?\d{4}\b`),
			Category:   CatPhone,
			Label:      "Telefone",
			Confidence: 0.85,
			Validate:   validPhoneDigits,
		},
	}
}

// ExtendedPatterns returns the date, amount and address patterns used for
// generalization.
func ExtendedPatterns() []Pattern {
	return []Pattern{
		{
			// Date: dd/mm/yyyy
			Regex:      regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])/(?:0?[1-9]|1[0-2])/(?:1[89]|20)\d{2}\b`),
			Category:   CatDate,
			Label:      "Data",
			Confidence: 0.80,
		},
		{
			// Amount: R$ 1.234,56
			Regex:      regexp.MustCompile(`R\$[ ]?\d{1,3}(?:\.\d{3})*(?:,\d{2})?`),
			Category:   CatAmount,
			Label:      "Valor monetário",
			Confidence: 0.85,
		},
		{
			// Street address with house number
			Regex:      regexp.MustCompile(`(?:Rua|Avenida|Av\.|Travessa|Alameda|Praça|Rodovia|Estrada)[ ]+[\p{L}' .]+?,?[ ]*(?:n[º°o]\.?[ ]*)?\d+`),
			Category:   CatAddress,
			Label:      "Endereço",
			Confidence: 0.75,
		},
	}
}

// AllPatterns returns structured and extended patterns combined.
func AllPatterns() []Pattern {
	return append(StructuredPatterns(), ExtendedPatterns()...)
}

func validPhoneDigits(s string) bool {
	n := len(Digits(s))
	return n >= 8 && n <= 13
}
