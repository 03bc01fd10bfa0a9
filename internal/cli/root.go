// Package cli implements the carecompanion command: summarize and classify a call
// transcript, or classify an existing summary, and write the results under a data dir.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"carecompanion/internal/pipeline"
)

const (
	transcriptFileName = "transcript.txt"
	summaryFileName    = "summary.txt"
	outputFileName     = "output.txt"
)

type Processor interface {
	ProcessTranscript(ctx context.Context, transcript string, opts pipeline.Options) pipeline.Result
	ProcessSummary(ctx context.Context, summary string, opts pipeline.Options) pipeline.Result
}

type Deps struct {
	Processor Processor
	Logger    *slog.Logger
	// Keys from the environment; flags take precedence.
	OpenAIKey      string
	HuggingFaceKey string
}

type flags struct {
	file           string
	text           string
	summary        string
	summarySet     bool
	output         string
	dataDir        string
	openAIKey      string
	huggingFaceKey string
}

func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	var f flags

	cmd := &cobra.Command{
		Use:   "carecompanion",
		Short: "Summarize medical call transcripts and flag ones that need clinical attention",
		Long: `Summarize a call transcript and classify the summary as "normal" or
"needs clinical attention". Without a Hugging Face key the classification uses the
keyword method.

With no input flag the transcript is read from <data-dir>/transcript.txt.`,
		Example: `  carecompanion --file calls/0412.txt
  carecompanion --text "Patient reports severe chest pain..."
  carecompanion --summary "Patient experiencing chest pain with shortness of breath"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.summarySet = cmd.Flags().Changed("summary")
			return run(cmd.Context(), cmd.OutOrStdout(), deps, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.file, "file", "", "path to a transcript file")
	fs.StringVar(&f.text, "text", "", "transcript text")
	fs.StringVar(&f.summary, "summary", "", "existing summary to classify")
	fs.StringVar(&f.output, "output", "", "classification output file (default <data-dir>/output.txt)")
	fs.StringVar(&f.dataDir, "data-dir", "data", "directory for the default transcript and written results")
	fs.StringVar(&f.openAIKey, "openai-key", "", "summarization API key (overrides OPENAI_API_KEY)")
	fs.StringVar(&f.huggingFaceKey, "huggingface-key", "", "classification API key (overrides HF_API_KEY)")
	cmd.MarkFlagsMutuallyExclusive("file", "text", "summary")

	return cmd
}

func run(ctx context.Context, stdout io.Writer, deps Deps, f flags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := deps.Logger

	opts := pipeline.Options{
		OpenAIKey:      firstNonEmpty(f.openAIKey, deps.OpenAIKey),
		HuggingFaceKey: firstNonEmpty(f.huggingFaceKey, deps.HuggingFaceKey),
	}
	logger.Info("processing with options",
		"openai_key", presence(opts.OpenAIKey),
		"huggingface_key", presence(opts.HuggingFaceKey),
	)
	if opts.HuggingFaceKey == "" {
		logger.Info("no classification key provided, keyword fallback will be used")
	}

	// An explicitly blank --summary still selects summary mode so the pipeline rejects it.
	summaryMode := f.summarySet
	if !summaryMode && opts.OpenAIKey == "" {
		return errors.New("OpenAI API key not found: set OPENAI_API_KEY or use --openai-key")
	}

	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	var result pipeline.Result
	switch {
	case summaryMode:
		logger.Info("classifying existing summary")
		result = deps.Processor.ProcessSummary(ctx, f.summary, opts)
	case f.text != "":
		logger.Info("processing transcript from command line argument")
		result = deps.Processor.ProcessTranscript(ctx, f.text, opts)
	default:
		path := f.file
		if path == "" {
			path = filepath.Join(f.dataDir, transcriptFileName)
		}
		logger.Info("reading transcript", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read transcript: %w (specify --file, --text or --summary)", err)
		}
		result = deps.Processor.ProcessTranscript(ctx, string(data), opts)
	}

	if !result.Success {
		return errors.New(result.Error)
	}
	return writeResults(stdout, logger, f, result)
}

func writeResults(stdout io.Writer, logger *slog.Logger, f flags, result pipeline.Result) error {
	fmt.Fprintln(stdout, "== RESULTS ==")

	if result.Summary != "" {
		fmt.Fprintf(stdout, "\nSUMMARY:\n%s\n", result.Summary)
		path := filepath.Join(f.dataDir, summaryFileName)
		if err := os.WriteFile(path, []byte(result.Summary), 0o644); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		logger.Info("summary saved", "path", path)
	}

	v := result.Classification
	if v == nil {
		return errors.New("missing classification in successful result")
	}
	fmt.Fprintf(stdout, "\nCLASSIFICATION:\nResult: %s\nMethod: %s\n", v.Result, v.Method)
	fmt.Fprintf(stdout, "Scores: %s: %s%%, %s: %s%%\n",
		v.Labels[0], formatScore(v.Scores[0]),
		v.Labels[1], formatScore(v.Scores[1]),
	)
	if len(v.MatchedKeywords) > 0 {
		fmt.Fprintf(stdout, "Matched Keywords: %s\n", strings.Join(v.MatchedKeywords, ", "))
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := f.output
	if path == "" {
		path = filepath.Join(f.dataDir, outputFileName)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write classification: %w", err)
	}
	logger.Info("classification saved", "path", path)
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func presence(key string) string {
	if key == "" {
		return "absent"
	}
	return "present"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
