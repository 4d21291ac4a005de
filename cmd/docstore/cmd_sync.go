package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/odvcencio/docstore/pkg/metrics"
	"github.com/odvcencio/docstore/pkg/registry"
)

func newSyncCmd(g *globals) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every configured repository (and --repo) from its origin",
		Long: "Fetch every configured repository (and --repo) from its origin.\n" +
			"With --interval, keep fetching until interrupted and serve metrics on server.metrics_addr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			promReg := newPromRegistry()
			s, err := openSession(cmd, g, registry.WithMetrics(metrics.New(promReg)))
			if err != nil {
				return err
			}
			defer s.close()
			ctx := cmd.Context()

			names := make([]string, 0, len(s.cfg.Repositories)+1)
			for name := range s.cfg.Repositories {
				names = append(names, name)
			}
			if g.repo != "" {
				if _, ok := s.cfg.Repositories[g.repo]; !ok {
					names = append(names, g.repo)
				}
			}
			if len(names) == 0 {
				return fmt.Errorf("no repositories configured; pass --repo")
			}
			sort.Strings(names)

			for _, name := range names {
				if _, err := s.registry.Connect(ctx, name); err != nil {
					return fmt.Errorf("connect %s: %w", name, err)
				}
			}
			if err := s.registry.FetchAll(ctx); err != nil {
				return err
			}
			if err := printSynced(cmd.OutOrStdout(), s.registry.Names(), g.json); err != nil {
				return err
			}
			if interval <= 0 {
				return nil
			}
			return mirror(ctx, s, promReg, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "keep fetching at this interval")
	return cmd
}

func printSynced(out io.Writer, names []string, asJSON bool) error {
	if asJSON {
		return printJSON(out, map[string][]string{"synced": names})
	}
	for _, name := range names {
		fmt.Fprintf(out, "synced %s\n", name)
	}
	return nil
}

// mirror refetches every connected workspace on each tick. A failed round
// is logged and retried on the next tick.
func mirror(ctx context.Context, s *session, gatherer prometheus.Gatherer, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(gatherer))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.registry.FetchAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("mirror fetch failed", "error", err)
			}
		}
	}
}
