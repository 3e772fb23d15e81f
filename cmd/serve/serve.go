package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/entityindex/internal/analysis"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/logger"
)

// Command creates the command running the HTTP API and job workers.
func Command(settings *conf.Settings, build *buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Long:  "Accept uploads over HTTP, process them in the background and serve reports and search until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := analysis.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			defer app.Close()

			stopRotate := rotateOnHangup(logger.Global())
			defer stopRotate()

			return app.Serve(cmd.Context())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// rotateOnHangup reopens the log file on SIGHUP so external log shippers
// can move it away. The returned func stops listening.
func rotateOnHangup(cl *logger.CentralLogger) func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-hup:
				if err := cl.Rotate(); err != nil {
					cl.Module("serve").Warn("log rotation failed", logger.Error(err))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address of the HTTP API")
	cmd.Flags().IntVar(&settings.Queue.Workers, "workers", viper.GetInt("queue.workers"), "Number of concurrent processing jobs")
	cmd.Flags().BoolVar(&settings.WebServer.Metrics, "metrics", viper.GetBool("webserver.metrics"), "Expose Prometheus metrics on /metrics")

	for flag, key := range map[string]string{
		"listen":  "webserver.listen",
		"workers": "queue.workers",
		"metrics": "webserver.metrics",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %v", err)
		}
	}
	return nil
}
