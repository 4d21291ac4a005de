package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/docstore/pkg/config"
	"github.com/odvcencio/docstore/pkg/registry"
	"github.com/odvcencio/docstore/pkg/workspace"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals are the persistent flags every command shares.
type globals struct {
	configPath string
	repo       string
	branch     string
	json       bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "docstore",
		Short:         "Versioned document store over a remote origin",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", os.Getenv("DOCSTORE_CONFIG"), "path to a YAML or TOML config file")
	pf.StringVarP(&g.repo, "repo", "r", os.Getenv("DOCSTORE_REPO"), "repository name")
	pf.StringVarP(&g.branch, "branch", "b", "", "branch (default: the repository's default branch)")
	pf.BoolVar(&g.json, "json", false, "print JSON")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newLsCmd(g))
	root.AddCommand(newCatCmd(g))
	root.AddCommand(newPutCmd(g))
	root.AddCommand(newRmCmd(g))
	root.AddCommand(newLogCmd(g))
	root.AddCommand(newReflogCmd(g))
	root.AddCommand(newBranchCmd(g))
	root.AddCommand(newMergeCmd(g))
	root.AddCommand(newMergePreviewCmd(g))
	root.AddCommand(newDiffCmd(g))
	root.AddCommand(newShowCmd(g))
	root.AddCommand(newSyncCmd(g))
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newInitOriginCmd(g))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docstore %s\n", version)
		},
	}
}

// session is the loaded configuration plus everything built from it for
// one command invocation.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	shutdown func(context.Context) error
}

func loadConfig(g *globals) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openSession(cmd *cobra.Command, g *globals, opts ...registry.Option) (*session, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	shutdown, err := initTracing(cmd.Context(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	opts = append([]registry.Option{registry.WithLogger(logger)}, opts...)
	if strings.TrimSpace(cfg.SigningKey) != "" {
		signer, keyPath, err := newSSHCommitSigner(cfg.SigningKey)
		if err != nil {
			return nil, err
		}
		logger.Debug("signing commits", "key", keyPath)
		opts = append(opts, registry.WithSigner(signer))
	}
	reg, err := registry.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: reg, shutdown: shutdown}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Error("shutdown tracing", "error", err)
	}
}

// withWorkspace connects the --repo workspace and runs fn with it.
func withWorkspace(cmd *cobra.Command, g *globals, fn func(ctx context.Context, w *workspace.Workspace) error) error {
	if strings.TrimSpace(g.repo) == "" {
		return fmt.Errorf("--repo is required")
	}
	s, err := openSession(cmd, g)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := s.registry.Connect(ctx, g.repo)
	if err != nil {
		return err
	}
	return fn(ctx, w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
