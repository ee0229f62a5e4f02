package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/reglet-dev/rootscope/application/config"
	"github.com/reglet-dev/rootscope/application/schema"
	"github.com/spf13/cobra"
)

var errInvalidConfig = errors.New("configuration is invalid")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a configuration file against the schema and its constraints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			format, err := config.FormatOf(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			result, err := schema.ValidateConfig(data, format)
			if err != nil {
				return err
			}
			if !result.Valid {
				for _, e := range result.Errors {
					field := e.Field
					if field == "" {
						field = "/"
					}
					fmt.Fprintf(out, "%s: %s\n", field, e.Message)
				}
				return fmt.Errorf("%s: %w", path, errInvalidConfig)
			}

			// The schema cannot express cross-field rules such as the guest
			// section being required for the wazero collaborator.
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok\n", path)
			return nil
		},
	}
}
