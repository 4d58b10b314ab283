package cli

import (
	"github.com/spf13/cobra"

	"transformer-telemetry/internal/app"
)

var classifyOpts app.ClassifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "判定一条测量的异常类型，可选发送测试告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Classify(cmd.Context(), cmd.OutOrStdout(), classifyOpts)
		return err
	},
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyOpts.Entity, "entity", "", "Entity identifier attached to the alert")
	f.Float64Var(&classifyOpts.VoltageKV, "voltage", 11, "Voltage in kV")
	f.Float64Var(&classifyOpts.CurrentAmps, "current", 150, "Current in amperes")
	f.Float64Var(&classifyOpts.TemperatureC, "temperature", 60, "Temperature in °C")
	f.Float64Var(&classifyOpts.LoadFactor, "load", 0.5, "Load factor in [0,1]")
	f.BoolVar(&classifyOpts.Notify, "notify", false, "发送测试告警（需启用 alerting）")
}
