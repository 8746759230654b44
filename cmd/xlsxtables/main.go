// Package main provides the CLI entry point for xlsxtables-go.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ukaji3/xlsxtables-go/internal/config"
	"github.com/ukaji3/xlsxtables-go/internal/logging"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/output"
)

type extractFlags struct {
	outputPath  string
	pretty      bool
	format      string
	password    string
	schemasPath string
	envFile     string
	strict      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xlsxtables",
		Short: "Extract comment-declared tables from Excel workbooks",
		Long: `xlsxtables-go reads tables whose layout is declared in cell comments
(or supplied separately) from Excel workbooks, including password-protected
ones, and outputs them as JSON or YAML.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newExtractCmd())
	return rootCmd
}

func newExtractCmd() *cobra.Command {
	var fl extractFlags
	cmd := &cobra.Command{
		Use:   "extract [input.xlsx...]",
		Short: "Extract tables from one or more workbooks",
		Long: `Extract tables from one or more workbooks. Use "-" to read a workbook
from stdin. Problems are reported on stderr, one per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, fl, args)
		},
	}

	cmd.Flags().StringVarP(&fl.outputPath, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().BoolVar(&fl.pretty, "pretty", false, "Pretty-print JSON output")
	cmd.Flags().StringVarP(&fl.format, "format", "f", "json", "Output format: json, yaml")
	cmd.Flags().StringVarP(&fl.password, "password", "p", "", "Password for encrypted workbooks (overrides XLSXTABLES_PASSWORD)")
	cmd.Flags().StringVar(&fl.schemasPath, "schemas", "", "YAML file of layouts to apply besides cell comments")
	cmd.Flags().StringVar(&fl.envFile, "env-file", "", "Load environment variables from this file (default: ./.env when present)")
	cmd.Flags().BoolVar(&fl.strict, "strict", false, "Exit with an error when any problem is reported")
	return cmd
}

func runExtract(cmd *cobra.Command, fl extractFlags, args []string) error {
	var envFiles []string
	if fl.envFile != "" {
		envFiles = append(envFiles, fl.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	format, err := output.ParseFormat(fl.format)
	if err != nil {
		return err
	}

	var seeds *seedFile
	if fl.schemasPath != "" {
		if seeds, err = loadSeeds(fl.schemasPath); err != nil {
			return fmt.Errorf("failed to read schemas: %w", err)
		}
	}

	password := cfg.Extract.Password
	if cmd.Flags().Changed("password") {
		password = fl.password
	}

	reqs := make([]*xlsxtables.Request, len(args))
	for i, locator := range args {
		req := xlsxtables.NewRequest(locator)
		if password != "" {
			req = req.WithPassword(password)
		}
		reqs[i] = seeds.apply(req)
	}

	opts := xlsxtables.Options{
		Loader:             newLoader(cmd.InOrStdin()),
		CellBatch:          cfg.Extract.CellBatch,
		TimeSlice:          cfg.Extract.TimeSlice,
		MaxConcurrentLoads: cfg.Extract.MaxConcurrentLoads,
		LoadTimeout:        cfg.Extract.LoadTimeout,
	}
	res, err := xlsxtables.Extract(cmd.Context(), opts, reqs...)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	for _, line := range res.Report.Lines() {
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	}

	var buf bytes.Buffer
	if err := output.Encode(&buf, output.FromResult(res), format, fl.pretty); err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	if fl.outputPath != "" {
		if err := os.WriteFile(fl.outputPath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if fl.strict && !res.Report.Empty() {
		return fmt.Errorf("%d problem(s) reported", res.Report.Len())
	}
	return nil
}

// newLoader reads files from disk and the locator "-" from stdin, once.
func newLoader(stdin io.Reader) xlsxtables.Loader {
	files := xlsxtables.FileLoader{}
	readStdin := sync.OnceValues(func() ([]byte, error) {
		return io.ReadAll(stdin)
	})
	return xlsxtables.LoaderFunc(func(ctx context.Context, locator string) (*xlsxtables.Source, error) {
		if locator != "-" {
			return files.Load(ctx, locator)
		}
		data, err := readStdin()
		if err != nil {
			return nil, err
		}
		return xlsxtables.BytesSource(data), nil
	})
}
