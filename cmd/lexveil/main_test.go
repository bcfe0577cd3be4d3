package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/vurakit/lexveil/internal/detector"
)

const contract = "Contratante: Maria Silva, CPF: 111.444.777-35, telefone (11) 98888-7777, email maria@teste.com"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runWithConfig(t, "extract:\n  pdftotext: \"\"\n", args...)
}

func runWithConfig(t *testing.T, body string, args ...string) (string, string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), "lexveil.yaml", body)

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", cfg, "--log-level", "error"}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil || !strings.Contains(out, version) {
		t.Errorf("version: %q, %v", out, err)
	}
}

func TestAnonymizeCmd(t *testing.T) {
	in := writeFile(t, t.TempDir(), "contrato.txt", contract)

	out, stderr, err := run(t, "anonymize", in)
	if err != nil {
		t.Fatalf("anonymize: %v", err)
	}
	want := "Contratante: PESSOA_001, CPF: ***.444.***-35, telefone (11) *****-7777, email m***a@teste.com"
	if out != want {
		t.Errorf("got  %q\nwant %q", out, want)
	}
	if !strings.Contains(stderr, "4 patterns") {
		t.Errorf("summary missing: %q", stderr)
	}
}

func TestAnonymizeCmd_Flags(t *testing.T) {
	in := writeFile(t, t.TempDir(), "contrato.txt", contract)

	out, _, err := run(t, "anonymize", "--names", "initials", "--tax-id", "full", "--emails", "generic", in)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Contratante: M.S.,", "CPF: ***.***.***-**", "contato@exemplo.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestAnonymizeCmd_BadTechnique(t *testing.T) {
	in := writeFile(t, t.TempDir(), "contrato.txt", contract)

	if _, _, err := run(t, "anonymize", "--phones", "initials", in); err == nil {
		t.Error("initials is not valid for phones")
	}
}

func TestDetectCmd_JSON(t *testing.T) {
	in := writeFile(t, t.TempDir(), "contrato.txt", contract)

	out, _, err := run(t, "detect", "--json", in)
	if err != nil {
		t.Fatal(err)
	}
	var matches []detector.Match
	if err := json.Unmarshal([]byte(out), &matches); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(matches) != 4 {
		t.Errorf("expected 4 matches, got %d", len(matches))
	}
}

func TestBatchCmd(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", contract)
	b := writeFile(t, dir, "b.txt", "Nada a declarar.")
	outDir := filepath.Join(dir, "out")

	out, _, err := run(t, "batch", "--out", outDir, "--workers", "2", a, b)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if strings.Count(out, "->") != 2 {
		t.Errorf("expected two lines of output, got %q", out)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "a.anonymized.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "Maria") || !strings.Contains(string(got), "PESSOA_001") {
		t.Errorf("unexpected output file: %q", got)
	}
}

func TestBatchCmd_UnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "img.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	_, stderr, err := run(t, "batch", "--out", filepath.Join(dir, "out"), bad)
	if err == nil {
		t.Error("batch with a failed document should return an error")
	}
	if !strings.Contains(stderr, "skip") {
		t.Errorf("expected skip notice, got %q", stderr)
	}
}

func TestOutputName(t *testing.T) {
	if got := outputName("/docs/contrato.final.pdf"); got != "contrato.final.anonymized.txt" {
		t.Errorf("outputName = %q", got)
	}
}

func TestKeysCmd(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := fmt.Sprintf("redis:\n  addr: %q\n", mr.Addr())

	out, stderr, err := runWithConfig(t, cfg, "keys", "create", "--role", "viewer", "--label", "leitura")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(out, "lxv_sk_") {
		t.Errorf("expected a plaintext key, got %q", out)
	}
	id := strings.Fields(strings.TrimPrefix(stderr, "created key "))[0]

	out, _, err = runWithConfig(t, cfg, "keys", "list")
	if err != nil || !strings.Contains(out, id) || !strings.Contains(out, "leitura") {
		t.Errorf("list: %q, %v", out, err)
	}

	if _, _, err := runWithConfig(t, cfg, "keys", "revoke", id); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	out, _, _ = runWithConfig(t, cfg, "keys", "list")
	if !strings.Contains(out, "false") {
		t.Errorf("revoked key should be inactive: %q", out)
	}

	if _, _, err := runWithConfig(t, cfg, "keys", "create", "--role", "root"); err == nil {
		t.Error("unknown role should fail")
	}
}
