package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/cmd/config"
	"github.com/tphakala/entityindex/cmd/process"
	"github.com/tphakala/entityindex/cmd/search"
	"github.com/tphakala/entityindex/cmd/serve"
	"github.com/tphakala/entityindex/cmd/version"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Info) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "entityindex",
		Short:         "Video entity detection and search",
		Long:          "Sample frames from videos, detect entities with an ensemble of detectors and search videos by what they show.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	versionCmd := version.Command(build)
	configCmd := config.Command(settings)

	rootCmd.AddCommand(
		process.Command(settings, build),
		serve.Command(settings, build),
		search.Command(settings, build),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config only print, skip logger setup
		if cmd == versionCmd || (cmd.HasParent() && cmd.Parent() == configCmd) {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize sets up the central logger before any subcommand runs.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.DataDir, "datadir", viper.GetString("main.datadir"), "Directory for videos, frames, reports and the label index")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
