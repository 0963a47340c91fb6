// Package main provides kayactl, an operator CLI for inspecting the KAYA
// classifier, router and datasets without running the server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/config"
	"github.com/ashureev/kaya/internal/dispatcher"
	"github.com/ashureev/kaya/internal/gateway"
	"github.com/ashureev/kaya/internal/knowledge"
	"github.com/ashureev/kaya/internal/router"
	"github.com/ashureev/kaya/internal/session"
	"github.com/ashureev/kaya/internal/store"
)

var version = "dev"

type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func main() {
	_ = godotenv.Load()

	e := &env{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		out:    os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(e).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(e *env) *cobra.Command {
	var (
		dataDir string
		tables  string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "kayactl",
		Short:         "Inspect and exercise the KAYA dispatch layer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Knowledge.DataDir = dataDir
			}
			if cmd.Flags().Changed("tables") {
				cfg.ClassifierTables = tables
			}
			if verbose {
				e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			e.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "agent dataset directory (default AGENT_DATA_DIR)")
	root.PersistentFlags().StringVar(&tables, "tables", "", "classifier keyword tables YAML (default built-in)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newClassifyCmd(e),
		newRouteCmd(e),
		newAgentsCmd(e),
		newChatCmd(e),
		newSessionCmd(e),
	)
	return root
}

func newClassifyCmd(e *env) *cobra.Command {
	var (
		lang   string
		scores bool
	)
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify an utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := e.classifier()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			res := c.ClassifyWithLanguage(text, lang)
			if !scores {
				return e.printJSON(res)
			}
			all := make(map[string][]classifier.Score, len(classifier.Categories))
			for _, category := range classifier.Categories {
				all[category] = c.Scores(category, text)
			}
			return e.printJSON(struct {
				classifier.Result
				Scores map[string][]classifier.Score `json:"scores"`
			}{res, all})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "declared language (de or en)")
	cmd.Flags().BoolVar(&scores, "scores", false, "include the raw score of every value per category")
	return cmd
}

func newRouteCmd(e *env) *cobra.Command {
	var lastAgent string
	cmd := &cobra.Command{
		Use:   "route [text]",
		Short: "Classify and route an utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.classifier()
			if err != nil {
				return err
			}
			know, err := e.knowledge(cmd.Context())
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			class := c.Classify(text)

			var sess router.SessionView
			if lastAgent != "" {
				sess = previousAgent(lastAgent)
			}
			d := router.New(know, router.Options{Logger: e.logger}).Route(text, class, sess)
			return e.printJSON(struct {
				Classification classifier.Result `json:"classification"`
				Decision       router.Decision   `json:"decision"`
			}{class, d})
		},
	}
	cmd.Flags().StringVar(&lastAgent, "last-agent", "", "agent of the previous turn, for follow-up routing")
	return cmd
}

type previousAgent string

func (p previousAgent) LastAgent() string { return string(p) }

func newAgentsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent datasets and their load state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			know, err := e.knowledge(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tRECORDS\tUSABLE\tSOURCE")
			for _, a := range know.Agents() {
				src := a.SourcePath
				if a.Default {
					src = "(default)"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", a.Agent, a.Records, a.Usable, src)
			}
			return tw.Flush()
		},
	}
}

func newChatCmd(e *env) *cobra.Command {
	var (
		sessionID string
		offline   bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation against the local datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := e.classifier()
			if err != nil {
				return err
			}
			know, err := e.knowledge(ctx)
			if err != nil {
				return err
			}

			var transport gateway.Transport
			if !offline && e.cfg.LLMEnabled() {
				transport, err = gateway.NewTransport(ctx, gateway.ProviderConfig{
					Provider:      e.cfg.Gateway.Provider,
					OpenAIAPIKey:  e.cfg.Gateway.OpenAIAPIKey,
					OpenAIBaseURL: e.cfg.Gateway.OpenAIBaseURL,
					OpenAIModel:   e.cfg.Gateway.OpenAIModel,
					GeminiAPIKey:  e.cfg.Gateway.GeminiAPIKey,
					GeminiModel:   e.cfg.Gateway.GeminiModel,
				}, nil)
				if err != nil {
					e.logger.Warn("LLM transport unavailable, answering from templates only", "error", err)
					transport = nil
				}
			}
			gw := gateway.New(transport, gateway.Config{
				MaxTokens:   e.cfg.Gateway.MaxTokens,
				Temperature: e.cfg.Gateway.Temperature,
				Timeout:     e.cfg.Gateway.Timeout,
			}, gateway.WithLogger(e.logger))

			sessions := session.NewStore(session.Options{Logger: e.logger})
			d := dispatcher.New(c, sessions, router.New(know, router.Options{Logger: e.logger}), gw,
				dispatcher.Options{RequireGrounding: e.cfg.Gateway.RequireGrounding, Logger: e.logger})

			return chatLoop(ctx, d, sessionID, cmd.InOrStdin(), e.out)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session ID for the conversation")
	cmd.Flags().BoolVar(&offline, "offline", false, "never call the LLM")
	return cmd
}

func chatLoop(ctx context.Context, d *dispatcher.Dispatcher, sessionID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		}
		resp := d.Handle(ctx, line, sessionID)
		via := "template"
		if resp.ViaLLM {
			via = "llm"
		}
		fmt.Fprintf(out, "[%s via %s] %s\n  %s\n> ", resp.Agent, via, resp.Summary, resp.Text)
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func newSessionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "session [id]",
		Short: "Show an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := store.NewSQLite(e.cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			a, err := archive.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a == nil {
				return fmt.Errorf("session %s not found in %s", args[0], e.cfg.DBPath)
			}
			return e.printJSON(session.FromArchive(*a))
		},
	}
}

func (e *env) classifier() (*classifier.Classifier, error) {
	if e.cfg.ClassifierTables == "" {
		return classifier.NewDefault()
	}
	t, err := classifier.LoadTablesFile(e.cfg.ClassifierTables)
	if err != nil {
		return nil, err
	}
	return classifier.New(t)
}

func (e *env) knowledge(ctx context.Context) (*knowledge.Cache, error) {
	know := knowledge.NewCache(e.cfg.Knowledge.DataDir, e.logger)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := know.Reload(ctx); err != nil && !errors.Is(err, knowledge.ErrReloadInProgress) {
		return nil, fmt.Errorf("load datasets from %s: %w", e.cfg.Knowledge.DataDir, err)
	}
	return know, nil
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
