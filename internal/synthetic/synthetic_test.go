package synthetic

import (
	"regexp"
	"strings"
	"testing"

	"github.com/vurakit/lexveil/pkg/pii"
)

func TestDeterministic(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 20; i++ {
		if x, y := a.Name(), b.Name(); x != y {
			t.Fatalf("same seed diverged at %d: %q vs %q", i, x, y)
		}
		if x, y := a.CPF(), b.CPF(); x != y {
			t.Fatalf("same seed diverged at %d: %q vs %q", i, x, y)
		}
	}
}

func TestCPF_Valid(t *testing.T) {
	g := New(7)
	shape := regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	for i := 0; i < 200; i++ {
		cpf := g.CPF()
		if !shape.MatchString(cpf) {
			t.Fatalf("bad CPF shape: %s", cpf)
		}
		if !pii.ValidCPF(cpf) {
			t.Fatalf("synthetic CPF fails checksum: %s", cpf)
		}
	}
}

func TestCNPJ_Valid(t *testing.T) {
	g := New(9)
	for i := 0; i < 200; i++ {
		cnpj := g.CNPJ()
		if !pii.ValidCNPJ(cnpj) {
			t.Fatalf("synthetic CNPJ fails checksum: %s", cnpj)
		}
		if !strings.Contains(cnpj, "/0001-") {
			t.Fatalf("synthetic CNPJ should use branch 0001: %s", cnpj)
		}
	}
}

func TestPhone_AreaCode(t *testing.T) {
	valid := make(map[string]bool, len(AreaCodes))
	for _, c := range AreaCodes {
		valid[c] = true
	}
	shape := regexp.MustCompile(`^\((\d{2})\) (9\d{4}|[2-5]\d{3})-\d{4}$`)

	g := New(3)
	for i := 0; i < 200; i++ {
		phone := g.Phone()
		m := shape.FindStringSubmatch(phone)
		if m == nil {
			t.Fatalf("bad phone shape: %s", phone)
		}
		if !valid[m[1]] {
			t.Fatalf("invalid area code in %s", phone)
		}
	}
}

func TestEmail_Shape(t *testing.T) {
	shape := regexp.MustCompile(`^[a-z]+(\.[a-z]+)+\d{0,2}@[a-z0-9.]+$`)
	g := New(11)
	for i := 0; i < 200; i++ {
		email := g.Email()
		if !shape.MatchString(email) {
			t.Fatalf("bad email: %s", email)
		}
	}
}

func TestName_Words(t *testing.T) {
	g := New(5)
	for i := 0; i < 100; i++ {
		n := len(strings.Fields(g.Name()))
		if n < 2 || n > 3 {
			t.Fatalf("expected 2-3 words, got %d", n)
		}
	}
}

func TestAddress(t *testing.T) {
	g := New(1)
	addr, err := g.For(pii.CatAddress)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^\p{L}+ .+, \d+$`).MatchString(addr) {
		t.Errorf("bad address: %s", addr)
	}
}

func TestFor(t *testing.T) {
	g := New(2)
	for _, cat := range pii.Categories {
		v, err := g.For(cat)
		if err != nil || v == "" {
			t.Errorf("For(%s) = %q, %v", cat, v, err)
		}
	}
	if _, err := g.For(pii.CatDate); err == nil {
		t.Error("expected error for date category")
	}
}
