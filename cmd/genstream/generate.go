package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/generate"
	"github.com/namikmesic/genstream/internal/retry"
	"github.com/namikmesic/genstream/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	server     string
	model      string
	timeout    time.Duration
	transcript string
	asJSON     bool
}

func generateCommand() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate against a running server and print the result",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "server base URL (default $GENSTREAM_URL)")
	cmd.PersistentFlags().StringVar(&opts.model, "model", "", "model override")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up after this long")
	cmd.PersistentFlags().StringVar(&opts.transcript, "transcript", "", "write the raw response stream to this file")
	cmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")

	for _, k := range []struct {
		kind  backend.Kind
		short string
	}{
		{backend.KindFlashcards, "Make flashcards from notes"},
		{backend.KindQuiz, "Make a multiple choice quiz from text"},
		{backend.KindStudyBuddy, "Ask the study buddy a question"},
	} {
		kind := k.kind
		cmd.AddCommand(&cobra.Command{
			Use:   string(kind) + " [text...]",
			Short: k.short + " (reads stdin when no text is given)",
			RunE: func(cmd *cobra.Command, args []string) error {
				input, err := readInput(cmd.InOrStdin(), args)
				if err != nil {
					return err
				}
				return runGenerate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, kind, input)
			},
		})
	}
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func runGenerate(ctx context.Context, stdout, stderr io.Writer, opts *generateOptions, kind backend.Kind, input string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := opts.server
	if base == "" {
		base = cfg.ServerURL
	}
	base = strings.TrimRight(base, "/")

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}
	if err := checkHealth(ctx, base, policy); err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", base, err)
	}

	clientOpts := []session.Option{session.WithListener(progressPrinter(stderr))}
	if opts.transcript != "" {
		f, err := os.Create(opts.transcript)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		clientOpts = append(clientOpts, session.WithTranscript(f))
	}

	body := map[string]string{generate.InputField(kind): input}
	if opts.model != "" {
		body["model"] = opts.model
	}

	client := session.New(base+"/api/"+string(kind), clientOpts...)
	if err := client.Start(ctx, body); err != nil {
		return err
	}
	snap, err := client.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stderr)

	if snap.State != session.StateCompleted {
		return errors.New(snap.ErrorMessage())
	}
	log.Debug().
		Bool("cached", snap.Cached).
		Dur("elapsed", time.Since(snap.StartedAt)).
		Msg("generation completed")

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Result)
	}
	renderResult(stdout, snap.Result, snap.Cached)
	return nil
}

// checkHealth retries GET /healthz until the server answers 200.
func checkHealth(ctx context.Context, base string, policy retry.Policy) error {
	client := &http.Client{Timeout: 5 * time.Second}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check returned %d", resp.StatusCode)
		}
		return nil
	})
}

// progressPrinter shows how much text has arrived on one self-overwriting line.
func progressPrinter(w io.Writer) session.Listener {
	return func(s session.Snapshot) {
		if s.State == session.StateStreaming && s.Accumulated != "" {
			fmt.Fprintf(w, "\rreceived %d characters", len(s.Accumulated))
		}
	}
}
