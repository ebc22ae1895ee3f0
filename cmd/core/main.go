// Package main provides the harbor operator CLI. It works directly on a
// terminal's store file, so the terminal agent must be stopped first.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevedores/dashboard-sync/internal/db"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
)

// Version is set at build time
var Version = "0.1.0"

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries an exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func wrapExit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func exitCode(err error) int {
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags.
type RootOptions struct {
	StorePath string
	Output    string
}

// ValidOutputs lists the accepted --output values.
var ValidOutputs = []string{"text", "json", "yaml"}

// NewRootCommand builds the CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "harborctl",
		Short:   "Inspect and repair a terminal's offline sync queue",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, o := range ValidOutputs {
				if o == opts.Output {
					return nil
				}
			}
			return wrapExit(ExitCommandError, fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidOutputs), nil)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "data/harbor-sync.db", "path to the terminal store file")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newPendingCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newDiscardCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	return cmd
}

// openStore opens the store file and loads its records.
func openStore(ctx context.Context, path string) (*queue.Store, func(), error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, wrapExit(ExitCommandError, "store file not found", err)
	}
	database, err := db.OpenPath(path)
	if err != nil {
		return nil, nil, wrapExit(ExitCommandError, "failed to open store", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, wrapExit(ExitCommandError, "failed to migrate store", err)
	}
	repo := db.NewRepository(database.DB)
	store, err := queue.Open(ctx, repo, queue.Options{})
	if err != nil {
		repo.Close()
		database.Close()
		return nil, nil, wrapExit(ExitCommandError, "failed to load store", err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logging.Error("failed to close store", err)
		}
		repo.Close()
		database.Close()
	}
	return store, closeFn, nil
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
