package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/vurakit/lexveil/internal/config"
	"github.com/vurakit/lexveil/internal/detector"
	"github.com/vurakit/lexveil/internal/extract"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/technique"
	"github.com/vurakit/lexveil/pkg/pii"
)

// detectFlags override the configured detection settings.
type detectFlags struct {
	extended    bool
	sensitivity string
}

func (f *detectFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.extended, "extended", false, "also detect dates, amounts and addresses")
	cmd.Flags().StringVar(&f.sensitivity, "sensitivity", "", "low, medium or high (default from config)")
}

func (f *detectFlags) detector(cfg *config.Config) (*detector.Detector, error) {
	dc, err := cfg.DetectorConfig()
	if err != nil {
		return nil, err
	}
	if f.extended {
		dc.Extended = true
	}
	if f.sensitivity != "" {
		s, err := detector.ParseSensitivity(f.sensitivity)
		if err != nil {
			return nil, err
		}
		dc.Sensitivity = s
	}
	return detector.NewWithConfig(dc), nil
}

// techniqueFlags override the configured anonymization options.
type techniqueFlags struct {
	byCategory    map[pii.Category]*string
	noConsistency bool
	noFormatting  bool
}

func (f *techniqueFlags) register(cmd *cobra.Command) {
	flag := func(cat pii.Category, name, usage string) {
		var v string
		cmd.Flags().StringVar(&v, name, "", usage)
		f.byCategory[cat] = &v
	}
	f.byCategory = make(map[pii.Category]*string)
	flag(pii.CatTaxID, "tax-id", "CPF technique: partial, full, pseudonym, synthetic")
	flag(pii.CatCompanyID, "company-id", "CNPJ technique (default follows --tax-id)")
	flag(pii.CatPersonName, "names", "name technique: partial, full, pseudonym, synthetic, initials, generic")
	flag(pii.CatPhone, "phones", "phone technique: partial, full, pseudonym, synthetic, generic")
	flag(pii.CatEmail, "emails", "e-mail technique: partial, full, pseudonym, synthetic, generic")
	flag(pii.CatDate, "dates", "date technique: generalize, full")
	flag(pii.CatAmount, "amounts", "amount technique: generalize, full")
	flag(pii.CatAddress, "addresses", "address technique: generalize, full, synthetic")
	cmd.Flags().BoolVar(&f.noConsistency, "no-consistency", false, "give repeated values independent replacements")
	cmd.Flags().BoolVar(&f.noFormatting, "no-formatting", false, "do not keep punctuation when masking")
}

func (f *techniqueFlags) options(base processor.Options) (processor.Options, error) {
	opts := base
	for cat, v := range f.byCategory {
		if *v == "" {
			continue
		}
		t, ok := technique.Parse(*v)
		if !ok || !technique.Supports(cat, t) {
			return opts, fmt.Errorf("%s: %q is not supported (allowed: %v)", cat, *v, technique.Allowed(cat))
		}
		opts.Set(cat, t)
	}
	if f.noConsistency {
		opts.KeepConsistency = false
	}
	if f.noFormatting {
		opts.PreserveFormatting = false
	}
	return opts, nil
}

// readInput returns the text of path, or of stdin when path is "-".
// Files go through the extractor so PDF and DOCX work too.
func readInput(ctx context.Context, cfg *config.Config, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext, err := newExtractor(cfg)
	if err != nil {
		return "", err
	}
	res, err := ext.Extract(ctx, filepath.Base(path), data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if res.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", path, res.Warning)
	}
	return res.Text, nil
}

func newExtractor(cfg *config.Config) (*extract.Extractor, error) {
	maxSize, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, err
	}
	return extract.New(
		extract.WithMaxSize(maxSize),
		extract.WithPDFToText(cfg.Extract.PDFToText),
		extract.WithTimeout(cfg.Extract.Timeout),
	), nil
}

func newDetectCmd() *cobra.Command {
	var (
		df     detectFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "detect <file|->",
		Short: "List personal data found in a document",
		Example: `  lexveil detect contrato.pdf
  echo "CPF: 111.444.777-35" | lexveil detect -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := setup("warn")
			if err != nil {
				return err
			}
			det, err := df.detector(mgr.Config())
			if err != nil {
				return err
			}
			text, err := readInput(cmd.Context(), mgr.Config(), args[0])
			if err != nil {
				return err
			}

			matches := det.Detect(text)
			out := cmd.OutOrStdout()
			if asJSON {
				if matches == nil {
					matches = []detector.Match{}
				}
				return writeJSON(out, matches)
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "No personal data found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tSTART\tEND\tCONFIDENCE\tVALUE")
			for _, m := range matches {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%s\n", m.Type, m.Start, m.End, m.Confidence, m.Value)
			}
			return tw.Flush()
		},
	}
	df.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}

func newAnonymizeCmd() *cobra.Command {
	var (
		df     detectFlags
		tf     techniqueFlags
		asJSON bool
		out    string
	)
	cmd := &cobra.Command{
		Use:   "anonymize <file|->",
		Short: "Print the anonymized document",
		Example: `  lexveil anonymize contrato.docx
  lexveil anonymize --names initials --tax-id full peticao.pdf
  cat contrato.txt | lexveil anonymize --json -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, logger, err := setup("warn")
			if err != nil {
				return err
			}
			cfg := mgr.Config()
			det, err := df.detector(cfg)
			if err != nil {
				return err
			}
			opts, err := tf.options(cfg.Anonymization)
			if err != nil {
				return err
			}
			text, err := readInput(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}

			p := processor.New(det, processor.WithLogger(logger), processor.WithSource("cli"))
			res, err := p.Process(cmd.Context(), text, opts)
			if err != nil {
				return exitError(err)
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if asJSON {
				return writeJSON(w, res)
			}
			if _, err := io.WriteString(w, res.AnonymizedText); err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), args[0], res)
			return nil
		},
	}
	df.register(cmd)
	tf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write output to a file instead of stdout")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		df      detectFlags
		tf      techniqueFlags
		workers int
		outDir  string
	)
	cmd := &cobra.Command{
		Use:   "batch <files...>",
		Short: "Anonymize many documents in parallel",
		Example: `  lexveil batch --out anon/ contratos/*.pdf
  lexveil batch --workers 8 --names initials a.docx b.docx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, logger, err := setup("warn")
			if err != nil {
				return err
			}
			cfg := mgr.Config()
			det, err := df.detector(cfg)
			if err != nil {
				return err
			}
			opts, err := tf.options(cfg.Anonymization)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Server.Workers
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			ctx := cmd.Context()
			var (
				docs   []processor.Document
				failed int
			)
			for _, path := range args {
				text, err := readInput(ctx, cfg, path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", path, err)
					failed++
					continue
				}
				docs = append(docs, processor.Document{Name: path, Text: text})
			}

			p := processor.New(det, processor.WithLogger(logger), processor.WithSource("batch"))
			for _, r := range p.ProcessBatch(ctx, docs, opts, workers) {
				if r.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "fail %s: %v\n", r.Name, exitError(r.Err))
					failed++
					continue
				}
				dest := filepath.Join(outDir, outputName(r.Name))
				if err := os.WriteFile(dest, []byte(r.Result.AnonymizedText), 0o644); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "fail %s: %v\n", r.Name, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d patterns, %d fallbacks)\n",
					r.Name, dest, r.Result.Summary.TotalPatterns, r.Result.Summary.Fallbacks)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	df.register(cmd)
	tf.register(cmd)
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel documents (default from config)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "anonymized", "output directory")
	return cmd
}

// outputName maps contrato.pdf to contrato.anonymized.txt.
func outputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".anonymized.txt"
}

func printSummary(w io.Writer, name string, res *processor.Result) {
	cats := make([]string, 0, len(res.Summary.ByType))
	for cat, n := range res.Summary.ByType {
		cats = append(cats, fmt.Sprintf("%s=%d", cat, n))
	}
	sort.Strings(cats)
	fmt.Fprintf(w, "\n%s: %d patterns [%s], %d replacements, %d fallbacks, %s\n",
		name, res.Summary.TotalPatterns, strings.Join(cats, " "),
		res.Summary.Replacements, res.Summary.Fallbacks, units.HumanDuration(res.Duration))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitError unwraps a processing failure into a message that makes the
// risk explicit.
func exitError(err error) error {
	if errors.Is(err, processor.ErrProcessing) {
		return fmt.Errorf("%w; the output must not be treated as anonymized", err)
	}
	return err
}
