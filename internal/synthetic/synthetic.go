// Package synthetic generates realistic but fake Brazilian identifiers,
// names and contacts. A Generator seeded with the same value always
// produces the same sequence.
package synthetic

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/vurakit/lexveil/pkg/pii"
)

var (
	maleNames = []string{
		"João", "Pedro", "Carlos", "José", "Antonio", "Francisco", "Paulo", "Marcos", "Roberto", "Rafael",
		"Daniel", "Bruno", "Eduardo", "Fernando", "Gabriel", "Lucas", "Diego", "Rodrigo", "Felipe", "André",
	}
	femaleNames = []string{
		"Maria", "Ana", "Carla", "Patricia", "Sandra", "Cristina", "Fernanda", "Juliana", "Mariana", "Beatriz",
		"Camila", "Bruna", "Leticia", "Vanessa", "Priscila", "Renata", "Claudia", "Adriana", "Simone", "Débora",
	}
	surnames = []string{
		"Silva", "Santos", "Oliveira", "Souza", "Rodrigues", "Ferreira", "Alves", "Pereira", "Lima", "Gomes",
		"Costa", "Ribeiro", "Martins", "Carvalho", "Almeida", "Lopes", "Soares", "Fernandes", "Vieira", "Barbosa",
	}
	emailDomains = []string{
		"gmail.com", "hotmail.com", "yahoo.com.br", "outlook.com", "uol.com.br",
		"terra.com.br", "bol.com.br", "ig.com.br", "live.com", "r7.com",
	}
	streetTypes = []string{"Rua", "Avenida", "Travessa", "Alameda", "Praça"}
	streetNames = []string{
		"das Flores", "do Sol", "da Paz", "Santos Dumont", "Getúlio Vargas",
		"das Palmeiras", "Dom Pedro II", "da Liberdade", "Central", "dos Ipês",
	}
)

// AreaCodes lists the Brazilian DDD area codes in service.
var AreaCodes = []string{
	"11", "12", "13", "14", "15", "16", "17", "18", "19", "21", "22", "24", "27", "28",
	"31", "32", "33", "34", "35", "37", "38", "41", "42", "43", "44", "45", "46", "47",
	"48", "49", "51", "53", "54", "55", "61", "62", "63", "64", "65", "66", "67", "68",
	"69", "71", "73", "74", "75", "77", "79", "81", "82", "83", "84", "85", "86", "87",
	"88", "89", "91", "92", "93", "94", "95", "96", "97", "98", "99",
}

// Generator produces synthetic values. Not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New returns a Generator whose output is fully determined by seed.
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandom returns a Generator seeded from the runtime's random source.
func NewRandom() *Generator {
	return New(rand.Uint64())
}

// CPF returns a formatted CPF with valid check digits.
func (g *Generator) CPF() string {
	for {
		base := g.digits(9)
		d1, d2 := pii.CPFCheckDigits(base)
		cpf := fmt.Sprintf("%s%d%d", base, d1, d2)
		if pii.ValidCPF(cpf) {
			return pii.FormatCPF(cpf)
		}
	}
}

// CNPJ returns a formatted head-office CNPJ (branch 0001) with valid check digits.
func (g *Generator) CNPJ() string {
	for {
		base := g.digits(8) + "0001"
		d1, d2 := pii.CNPJCheckDigits(base)
		cnpj := fmt.Sprintf("%s%d%d", base, d1, d2)
		if pii.ValidCNPJ(cnpj) {
			return pii.FormatCNPJ(cnpj)
		}
	}
}

// Name returns a first name plus one or two surnames.
func (g *Generator) Name() string {
	first := pick(g, maleNames)
	if g.rng.IntN(2) == 1 {
		first = pick(g, femaleNames)
	}
	last := pick(g, surnames)
	if g.rng.Float64() > 0.7 {
		return first + " " + pick(g, surnames) + " " + last
	}
	return first + " " + last
}

// Phone returns a phone number with a valid area code: 70% mobile
// "(DD) 9XXXX-XXXX", otherwise landline "(DD) XXXX-XXXX".
func (g *Generator) Phone() string {
	ddd := pick(g, AreaCodes)
	if g.rng.Float64() < 0.7 {
		return fmt.Sprintf("(%s) 9%s-%s", ddd, g.digits(4), g.digits(4))
	}
	return fmt.Sprintf("(%s) %d%s-%s", ddd, 2+g.rng.IntN(4), g.digits(3), g.digits(4))
}

// Email returns an accent-free address derived from a synthetic name.
func (g *Generator) Email() string {
	local := strings.ToLower(pii.StripAccents(g.Name()))
	local = strings.Join(strings.Fields(local), ".")
	if g.rng.Float64() > 0.8 {
		local += fmt.Sprintf("%d", 1+g.rng.IntN(99))
	}
	return local + "@" + pick(g, emailDomains)
}

// Address returns a street address such as "Rua das Flores, 123".
func (g *Generator) Address() string {
	return fmt.Sprintf("%s %s, %d", pick(g, streetTypes), pick(g, streetNames), 1+g.rng.IntN(9999))
}

// For returns a synthetic value of the given category.
func (g *Generator) For(cat pii.Category) (string, error) {
	switch cat {
	case pii.CatTaxID:
		return g.CPF(), nil
	case pii.CatCompanyID:
		return g.CNPJ(), nil
	case pii.CatPersonName:
		return g.Name(), nil
	case pii.CatPhone:
		return g.Phone(), nil
	case pii.CatEmail:
		return g.Email(), nil
	case pii.CatAddress:
		return g.Address(), nil
	default:
		return "", fmt.Errorf("no synthetic generator for %s", cat)
	}
}

func (g *Generator) digits(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + g.rng.IntN(10)))
	}
	return b.String()
}

func pick(g *Generator, list []string) string {
	return list[g.rng.IntN(len(list))]
}
