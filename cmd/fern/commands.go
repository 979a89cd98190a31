package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	lcierrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/persistence"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/server"
)

var version = "dev"

type rootOptions struct {
	envFile   string
	graphFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "fern",
		Short:         "Export LCI databases to a relational store and link them back into a graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&opts.graphFile, "graph-file", "", "YAML graph used by the memory backend (overrides GRAPH_FILE)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newDatasetsCmd(opts),
	)
	return root
}

// run starts the dependencies, calls fn and stops them again.
func run(cmd *cobra.Command, opts *rootOptions, saveGraph bool, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	a.saveGraph = saveGraph

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.stop()
		return err
	}
	defer a.stop()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, true, func(ctx context.Context, a *app) error {
				srv := server.New(server.Config{
					ServiceName:  a.cfg.AppName,
					Port:         a.cfg.Port,
					ReadTimeout:  time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
					WriteTimeout: time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
					IdleTimeout:  time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				}, a.service(), a.healthChecker(version), a.logger)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				a.logger.Info("shutting down HTTP server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the relational schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging())
			if err != nil {
				return err
			}
			store, err := persistence.Open(cmd.Context(), cfg.Database(), logger)
			if err != nil {
				return err
			}
			logger.Info("migrations applied")
			return store.Close()
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var req pipeline.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graph databases as a new dataset version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				result, err := a.service().Export(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&req.Databases, "database", "d", nil, "source database to export (repeatable)")
	flags.StringVarP(&req.Name, "name", "n", "", "dataset name")
	flags.StringVar(&req.FinalDate, "final-date", time.Now().Format(time.DateOnly), "final date of the dataset (YYYY-MM-DD)")
	flags.StringVar(&req.Description, "description", "", "dataset description")
	flags.StringVar(&req.UserEmailAddress, "email", "", "contact email address")
	flags.StringSliceVar(&req.Keywords, "keyword", nil, "dataset keyword (repeatable)")
	flags.BoolVar(&req.SkipCompletenessCheck, "skip-check", false, "skip the round trip completeness check")
	_ = cmd.MarkFlagRequired("database")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		req      pipeline.ImportRequest
		unlinked string
	)
	cmd := &cobra.Command{
		Use:   "import <dataset>",
		Short: "Link the latest version of a dataset into the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DatasetName = args[0]
			return run(cmd, opts, !req.DryRun, func(ctx context.Context, a *app) error {
				svc := a.service()
				result, err := svc.Import(ctx, req)
				if result != nil {
					if printErr := printJSON(result); printErr != nil {
						return printErr
					}
				}
				if err != nil && lcierrors.IsUnresolved(err) && unlinked != "" {
					if csvErr := writeOutput(unlinked, func(f *os.File) error {
						return svc.WriteUnlinked(ctx, req.DatasetName, f)
					}); csvErr != nil {
						a.logger.WithError(csvErr).Error("failed to write unlinked exchanges")
					}
				}
				return err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Destination, "destination", "", "target database name (defaults to the dataset name)")
	flags.BoolVar(&req.DryRun, "dry-run", false, "match and report without writing to the graph")
	flags.StringVar(&unlinked, "unlinked", "", "write unresolved exchanges as CSV to this path ('-' for stdout)")
	return cmd
}

func newDatasetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List stored dataset versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				items, err := a.service().ListDatasets(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset version and its activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				return a.service().DeleteDataset(ctx, id)
			})
		},
	})
	return cmd
}
