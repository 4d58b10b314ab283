package cli

import (
	"github.com/spf13/cobra"
)

var (
	runListen string
	runSeed   int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telemetry pipeline and, if configured, the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if cmd.Flags().Changed("listen") {
			a.Config.HTTP.ListenAddr = runListen
		}
		if cmd.Flags().Changed("seed") {
			a.Config.Telemetry.Seed = runSeed
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runListen, "listen", "", "HTTP API listen address, e.g. :8080 (overrides http.listen_addr)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Generator seed (overrides telemetry.seed)")
}
