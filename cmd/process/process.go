package process

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/internal/analysis"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/datastore"
)

type options struct {
	interval int
	voice    string
}

// Command creates a command that processes a single video in the foreground.
func Command(settings *conf.Settings, build *buildinfo.Info) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "process [video]",
		Short: "Process a single video",
		Long:  "Sample frames, detect entities and write the report for one video without starting the server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := analysis.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			defer app.Close()

			v, err := app.ProcessFile(cmd.Context(), args[0], opts.voice, opts.interval)
			if err != nil {
				return err
			}
			if v.Status == datastore.StatusFailed {
				return fmt.Errorf("processing %s failed: %s", v.Filename, firstLine(v.Error))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "video:    %s\n", v.ID)
			fmt.Fprintf(out, "frames:   %d\n", v.FramesAnalyzed)
			fmt.Fprintf(out, "entities: %d\n", v.UniqueEntities)
			fmt.Fprintf(out, "report:   %s\n", v.ReportPath)
			return nil
		},
	}

	if err := setupFlags(cmd, settings, opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// setupFlags configures flags specific to the process command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	cmd.Flags().IntVarP(&opts.interval, "interval", "i", 0, "Seconds between sampled frames, 0 uses the configured default")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "Separate voice track to transcribe instead of the video audio")
	cmd.Flags().BoolVar(&settings.Transcription.Enabled, "transcribe", viper.GetBool("transcription.enabled"), "Transcribe the audio track")

	if err := viper.BindPFlag("transcription.enabled", cmd.Flags().Lookup("transcribe")); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
