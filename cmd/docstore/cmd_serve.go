package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/docstore/pkg/metrics"
	"github.com/odvcencio/docstore/pkg/remote"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve origins over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.close()
			if addr == "" {
				addr = s.cfg.Server.Addr
			}

			promReg := newPromRegistry()
			m := metrics.New(promReg)

			branch := s.cfg.DefaultBranch
			if branch == "" {
				branch = "main"
			}
			dirs := remote.NewDirSet(s.cfg.Server.DataDir, branch, s.cfg.Server.AutoInit)
			handlerOpts := []remote.HandlerOption{remote.WithLogger(s.logger)}
			if !s.cfg.Credentials.IsZero() {
				handlerOpts = append(handlerOpts, remote.WithAuthorizer(remote.TokenAuthorizer(s.cfg.Credentials)))
			}
			origins := remote.NewHandler(dirs.Resolve, handlerOpts...)

			mux := http.NewServeMux()
			origins.RegisterRoutes(mux)
			servers := []*http.Server{{Addr: addr, Handler: m.Middleware(mux), ReadHeaderTimeout: 10 * time.Second}}
			if s.cfg.Server.MetricsAddr != "" {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", metrics.Handler(promReg))
				servers = append(servers, &http.Server{Addr: s.cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
			} else {
				mux.Handle("/metrics", metrics.Handler(promReg))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			grp, ctx := errgroup.WithContext(ctx)
			for _, srv := range servers {
				grp.Go(func() error {
					s.logger.Info("listening", "addr", srv.Addr, "data_dir", s.cfg.Server.DataDir)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("serve %s: %w", srv.Addr, err)
					}
					return nil
				})
			}
			grp.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				var errs []error
				for _, srv := range servers {
					errs = append(errs, srv.Shutdown(shutdownCtx))
				}
				return errors.Join(errs...)
			})
			return grp.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

func newPromRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newInitOriginCmd(g *globals) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "init-origin <dir>",
		Short: "Create an empty bare origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if branch == "" {
				cfg, err := loadConfig(g)
				if err != nil {
					return err
				}
				branch = cfg.DefaultBranch
			}
			if branch == "" {
				branch = "main"
			}
			if err := os.MkdirAll(args[0], 0o755); err != nil {
				return err
			}
			d, err := remote.InitDir(args[0], branch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized origin %s (default branch %s)\n", d.Path(), branch)
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "default-branch", "", "default branch (default: the configured one, else main)")
	return cmd
}
