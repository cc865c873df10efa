package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"transcript-anonymizer/internal/anonymizer"
	"transcript-anonymizer/internal/archive"
	"transcript-anonymizer/internal/config"
	"transcript-anonymizer/internal/document"
	"transcript-anonymizer/internal/ledger"
	"transcript-anonymizer/internal/logger"
	"transcript-anonymizer/internal/pipeline"
	"transcript-anonymizer/internal/server"
	"transcript-anonymizer/internal/vocabulary"
	"transcript-anonymizer/internal/watch"
)

// app is the wiring shared by the subcommands.
type app struct {
	cfg    *config.Config
	vocab  *vocabulary.Registry
	ledger ledger.Ledger
	proc   *pipeline.Processor
	log    *logger.Logger
}

// newApp builds the vocabulary, anonymizer, decoder, ledger and processor
// from cfg. A ledger that cannot be opened degrades to an in-memory one.
func newApp(cfg *config.Config) (*app, error) {
	log := logger.New("MAIN", cfg.LogLevel)

	vocab, err := openVocabulary(cfg)
	if err != nil {
		return nil, err
	}

	anon, err := anonymizer.New(anonymizer.Options{
		Marker:     cfg.Marker,
		HeadLimit:  cfg.BracketScanLimit,
		Rules:      cfg.Rules,
		Checks:     cfg.Checks,
		Vocabulary: vocab,
	})
	if err != nil {
		return nil, err
	}

	dec, err := document.NewDecoder(cfg.FallbackEncoding)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Warnf("ledger", "%v (falling back to in-memory ledger)", err)
		l = ledger.NewMemory()
	}

	proc := pipeline.New(anon, dec, pipeline.Options{
		Workers: cfg.Workers,
		Ledger:  l,
		Logger:  logger.New("PIPELINE", cfg.LogLevel),
	})
	return &app{cfg: cfg, vocab: vocab, ledger: l, proc: proc, log: log}, nil
}

// openVocabulary seeds the registry with the built-in words, the configured
// words and the ignore file. Once a persisted list exists it wins over the
// seed, so configured words missing from it are reported.
func openVocabulary(cfg *config.Config) (*vocabulary.Registry, error) {
	configured := slices.Clone(cfg.IgnoreWords)
	if cfg.IgnoreFile != "" {
		words, err := vocabulary.LoadFile(cfg.IgnoreFile)
		if err != nil {
			return nil, fmt.Errorf("ignore file: %w", err)
		}
		configured = append(configured, words...)
	}
	r := vocabulary.NewRegistry(append(vocabulary.DefaultWords(), configured...), cfg.VocabularyPath)
	if missing := r.Missing(configured); len(missing) > 0 {
		logger.New("MAIN", cfg.LogLevel).Warnf("vocabulary",
			"%d configured ignore words are not in %s and have no effect; add them with 'vocab add': %s",
			len(missing), cfg.VocabularyPath, strings.Join(missing, ", "))
	}
	return r, nil
}

func (a *app) close() {
	if err := a.ledger.Close(); err != nil {
		a.log.Warnf("ledger", "close: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		cfg      *config.Config
	)

	root := &cobra.Command{
		Use:           "anonymizer",
		Short:         "Replace speaker names in transcripts with pseudonyms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cfg = config.LoadFrom(cfgFile)
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cfg.LogFile != "" {
				logger.UseFile(cfg.LogFile, cfg.LogMaxSizeMB, false)
			}
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Close() //nolint:errcheck // exiting
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFile, "JSON config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cfgFn := func() *config.Config { return cfg }
	root.AddCommand(
		newRunCmd(cfgFn),
		newServeCmd(cfgFn),
		newWatchCmd(cfgFn),
		newReportCmd(cfgFn),
		newVocabCmd(cfgFn),
	)
	return root
}

func newRunCmd(cfg func() *config.Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Anonymize files into a zip archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			if output == "" {
				output = a.cfg.ArchiveName
			}
			inputs := make([]pipeline.Input, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				inputs = append(inputs, pipeline.Input{Name: filepath.Base(path), Data: data, Err: err})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			results, sum := a.proc.Batch(ctx, inputs)
			return writeRun(cmd.OutOrStdout(), cmd.ErrOrStderr(), output, results, sum)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output zip (default from config archiveName)")
	return cmd
}

// writeRun reports per-document failures, writes the archive and prints the
// tally. No archive is written when nothing succeeded.
func writeRun(stdout, stderr io.Writer, output string, results []pipeline.Result, sum pipeline.Summary) error {
	for _, r := range results {
		if !r.OK() {
			fmt.Fprintf(stderr, "#%d skipped: %s\n", r.Index+1, pipeline.ErrorKind(r.Err))
		}
	}
	if sum.Processed == 0 {
		return fmt.Errorf("no documents processed (0/%d)", sum.Total)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := archive.Write(f, pipeline.Files(results)); err != nil {
		f.Close() //nolint:errcheck // already failing
		return fmt.Errorf("write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Fprintf(stdout, "Processed %s -> %s (batch %s)\n", sum, output, sum.BatchID)
	return nil
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			printBanner(a.cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(a.cfg, a.proc, a.vocab, a.ledger).ListenAndServe(ctx)
		},
	}
}

func newWatchCmd(cfg func() *config.Config) *cobra.Command {
	var (
		existing bool
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <inbox> <outbox>",
		Short: "Anonymize files as they appear in an inbox directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			w, err := watch.New(args[0], args[1], a.proc, watch.Options{
				Delay:    delay,
				Existing: existing,
				Logger:   logger.New("WATCH", a.cfg.LogLevel),
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&existing, "existing", false, "also process files already in the inbox")
	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before a changed file is processed")
	return cmd
}

func newReportCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "report [batch-id]",
		Short: "List recorded batches, or show the entries of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if c.LedgerPath == "" {
				return errors.New("no ledger configured: set ledgerPath or ANON_LEDGER_PATH")
			}
			l, err := ledger.Open(c.LedgerPath)
			if err != nil {
				return err
			}
			defer l.Close() //nolint:errcheck // read-only use

			if len(args) == 0 {
				ids, err := l.Batches()
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}
			entries, err := l.Batch(args[0])
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
}

func printEntries(w io.Writer, entries []ledger.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tOUTPUT\tFORMAT\tENCODING\tNAMES\tREPLACED\tMS\tERROR")
	for _, e := range entries {
		enc := e.Encoding
		if e.Lossy {
			enc += " (lossy)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%.1f\t%s\n",
			e.Index+1, e.Status, e.Output, e.Format, enc, e.Names, e.Replacements, e.DurationMs, e.Error)
	}
	return tw.Flush()
}

func newVocabCmd(cfg func() *config.Config) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Manage the ignore vocabulary",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the ignored words",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r, err := openVocabulary(cfg())
				if err != nil {
					return err
				}
				for _, w := range r.All() {
					fmt.Fprintln(cmd.OutOrStdout(), w)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <word>...",
			Short: "Add ignored words",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, w := range args {
					if !vocabulary.Valid(w) {
						return fmt.Errorf("invalid word %q: need one line of 1-%d characters", w, vocabulary.MaxWordLen)
					}
				}
				r, err := openVocabulary(cfg())
				if err != nil {
					return err
				}
				for _, w := range args {
					r.Add(w)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d words\n", r.Len())
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <word>...",
			Short: "Remove ignored words",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := openVocabulary(cfg())
				if err != nil {
					return err
				}
				var missing []string
				for _, w := range args {
					if !r.Remove(w) {
						missing = append(missing, w)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d words\n", r.Len())
				if len(missing) > 0 {
					return fmt.Errorf("not in vocabulary: %v", missing)
				}
				return nil
			},
		},
	)
	return cmd
}

// printBanner shows the active configuration when the server starts.
func printBanner(cfg *config.Config) {
	auth := "disabled (set ANON_TOKEN to require a bearer token)"
	if cfg.ManagementToken != "" {
		auth = "bearer token"
	}
	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = "(in-memory)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Transcript Anonymizer  (Go)                 ║
╚══════════════════════════════════════════════════════╝
  Listen          : %s:%d
  Auth            : %s
  Marker          : %s
  Fallback enc.   : %s
  Workers         : %d
  Ledger          : %s

  Upload files:
    curl -F files=@meeting.txt http://localhost:%d/anonymize -o %s

  Check status:
    curl http://localhost:%d/status
`, cfg.BindAddress, cfg.Port,
		auth,
		cfg.Marker, cfg.FallbackEncoding, cfg.Workers,
		ledgerPath,
		cfg.Port, cfg.ArchiveName,
		cfg.Port)
}
