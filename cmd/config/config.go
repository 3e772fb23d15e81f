package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/entityindex/internal/conf"
)

const redacted = "********"

// Command groups the configuration helpers.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeSettings(cmd.OutOrStdout(), settings)
			},
		},
		&cobra.Command{
			Use:   "default",
			Short: "Print the default configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := conf.DefaultConfigYAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)

	return cmd
}

func writeSettings(w io.Writer, settings *conf.Settings) error {
	s := *settings
	if s.Provider.APIKey != "" {
		s.Provider.APIKey = redacted
	}
	if s.Sentry.DSN != "" {
		s.Sentry.DSN = redacted
	}
	if s.Database.MySQL.Password != "" {
		s.Database.MySQL.Password = redacted
	}
	if s.LabelIndex.Postgres.DSN != "" {
		s.LabelIndex.Postgres.DSN = redacted
	}

	if s.ConfigFile != "" {
		if _, err := fmt.Fprintf(w, "# loaded from %s\n", s.ConfigFile); err != nil {
			return err
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&s); err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	return enc.Close()
}
