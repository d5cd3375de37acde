package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and drive the offline sync store",
		Long: `syncctl opens the configured local store and remote directly, so it can push,
pull and inspect the operation queue without a running server. Do not run it
against a SQLite store that a server is writing to at the same time.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		pushCmd(opts),
		pullCmd(opts),
		syncCmd(opts),
		statusCmd(opts),
		pendingCmd(opts),
		conflictsCmd(opts),
		resolveCmd(opts),
		historyCmd(opts),
	)
	return root
}

// withManager opens the store and remote from config, runs fn and closes both.
func withManager(cmd *cobra.Command, opts *options, fn func(ctx context.Context, m *sync.Manager) (any, error)) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		if err := logger.InitLogger(cfg.Logging.Level, "console"); err != nil {
			return err
		}
		defer logger.Sync()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	schemas, err := sync.TableSchemas(cfg.Sync)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.LocalStore)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	backend, closer, err := remote.Open(ctx, cfg.Remote, schemas)
	if err != nil {
		st.Close()
		return err
	}
	defer closer.Close()

	m, err := sync.NewManager(ctx, cfg, st, backend)
	if err != nil {
		st.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close store: %v\n", err)
		}
	}()

	out, err := fn(ctx, m)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFilter turns col=value arguments into a predicate.
func parseFilter(args []string) (store.Predicate, error) {
	pred := store.Predicate{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q (want column=value)", a)
		}
		pred[k] = v
	}
	return pred, nil
}

// remoteErr turns a remote failure reported in a result into a non-zero exit.
func remoteErr(err error) error {
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

func pushCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push queued mutations to the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res sync.PushResult
			err := withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				var err error
				res, err = m.Push(ctx)
				return res, err
			})
			if err != nil {
				return err
			}
			return remoteErr(res.Err)
		},
	}
}

func pullCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pull TABLE [COLUMN=VALUE...]",
		Short: "Pull one table, optionally narrowing the configured filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(args[1:])
			if err != nil {
				return err
			}
			var res sync.PullResult
			err = withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				var err error
				res, err = m.PullTable(ctx, args[0], filter)
				return res, err
			})
			if err != nil {
				return err
			}
			return remoteErr(res.Err)
		},
	}
}

func syncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push, then pull every configured table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res sync.SyncResult
			err := withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				var err error
				res, err = m.SyncAll(ctx)
				return res, err
			})
			if err != nil {
				return err
			}
			return remoteErr(res.Err())
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue size and configured tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				return m.GetStatus(ctx)
			})
		},
	}
}

func pendingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued mutations in push order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				pending, err := m.Store().Pending(ctx)
				if pending == nil {
					pending = []store.PendingMutation{}
				}
				return pending, err
			})
		},
	}
}

func conflictsCmd(opts *options) *cobra.Command {
	var resolved bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				conflicts, err := m.Store().ListConflicts(ctx, resolved, limit, offset)
				if conflicts == nil {
					conflicts = []*store.Conflict{}
				}
				return conflicts, err
			})
		},
	}
	cmd.Flags().BoolVar(&resolved, "resolved", false, "List resolved conflicts instead of open ones")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func resolveCmd(opts *options) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "resolve CONFLICT_ID",
		Short: "Mark a conflict as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				if err := m.Store().ResolveConflict(ctx, args[0], strategy); err != nil {
					return nil, err
				}
				return map[string]string{"id": args[0], "strategy": strategy}, nil
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "manual", "Resolution recorded on the conflict")
	return cmd
}

func historyCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, opts, func(ctx context.Context, m *sync.Manager) (any, error) {
				history, err := m.Store().GetSyncHistory(ctx, limit, 0)
				if history == nil {
					history = []*store.SyncHistory{}
				}
				return history, err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
