package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/reglet-dev/rootscope/application/config"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/host"
	"github.com/spf13/cobra"
)

// app holds what the subcommands share once the persistent flags are parsed.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    config.Config
	logger *slog.Logger

	// lifecycle overrides the process-wide one; tests start many runtimes.
	lifecycle *host.Lifecycle
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rootscope",
		Short:         "Scoped rooting for collected runtimes",
		Long:          `rootscope runs values of a garbage-collected runtime through scoped root frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json", false, "log as JSON")

	root.AddCommand(newDemoCmd(a), newSchemaCmd(), newValidateCmd())
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Log.Format = "json"
	}

	logger, err := cfg.Logger(stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) hostOptions() []host.Option {
	if a.lifecycle == nil {
		return nil
	}
	return []host.Option{host.WithLifecycle(a.lifecycle)}
}

// reportError prints err through its structured detail, as JSON when the
// logs are JSON too.
func reportError(w io.Writer, err error, asJSON bool) {
	detail := rserrors.ToErrorDetail(err)
	if detail == nil {
		return
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": detail})
		return
	}
	fmt.Fprintf(w, "Error: %s\n", detail.Error())
}
