package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"transformer-telemetry/internal/service"
	"transformer-telemetry/internal/state"
	"transformer-telemetry/internal/telemetry"
)

// Export replays the configured entities offline and renders one entity's
// series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	ids := a.Config.EntityIDs()
	entity := telemetry.EntityID(opts.Entity)
	if entity == "" {
		entity = ids[0]
	}
	if !slices.Contains(ids, entity) {
		return fmt.Errorf("unknown entity %q; configured: %v", entity, ids)
	}

	seed := a.Config.Telemetry.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	ticks := a.Config.ResolveTicks(opts.Ticks)

	svcOpts := service.OptionsFromConfig(a.Config)
	if opts.Origin != nil {
		svcOpts.Origin = opts.Origin.UTC()
	}

	var samples []telemetry.SmoothedSample
	counts := make(map[telemetry.AnomalyKind]int)
	err := service.Replay(ctx, svcOpts, state.NewStore(a.Config.Telemetry.SeriesCap), ids, seed, ticks, func(s telemetry.SmoothedSample) {
		if s.Raw.EntityID != entity {
			return
		}
		samples = append(samples, s)
		counts[s.Anomaly]++
	})
	if err != nil {
		return err
	}

	ev := a.Logger.Info().Str("entity", string(entity)).Int64("seed", seed).Int("ticks", ticks)
	for kind, n := range counts {
		ev = ev.Int(kind.String(), n)
	}
	ev.Msg("exporting replayed samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, samples); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, entity, samples); err != nil {
			return err
		}
	}

	return nil
}

func writeSamplesCSV(path string, samples []telemetry.SmoothedSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "entity", "voltage_kv", "current_amps", "temperature_c", "load_factor", "smoothed_voltage_kv", "smoothed_current_amps", "smoothed_temperature_c", "anomaly"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			s.Raw.Time().Format(time.RFC3339Nano),
			string(s.Raw.EntityID),
			service.FormatValue(telemetry.MetricVoltage, s.Raw.VoltageKV),
			service.FormatValue(telemetry.MetricCurrent, s.Raw.CurrentAmps),
			service.FormatValue(telemetry.MetricTemperature, s.Raw.TemperatureC),
			service.FormatValue(telemetry.MetricLoad, s.Raw.LoadFactor),
			service.FormatValue(telemetry.MetricVoltage, s.SmoothedVoltageKV),
			service.FormatValue(telemetry.MetricCurrent, s.SmoothedCurrentAmps),
			service.FormatValue(telemetry.MetricTemperature, s.SmoothedTemperatureC),
			s.Anomaly.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, entity telemetry.EntityID, samples []telemetry.SmoothedSample) error {
	if len(samples) < 2 {
		return errors.New("at least two samples are required to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	voltage := make([]float64, len(samples))
	current := make([]float64, len(samples))
	temperature := make([]float64, len(samples))
	load := make([]float64, len(samples))

	for i, s := range samples {
		x[i] = s.Raw.Time()
		voltage[i] = s.Value(telemetry.MetricVoltage)
		current[i] = s.Value(telemetry.MetricCurrent)
		temperature[i] = s.Value(telemetry.MetricTemperature)
		load[i] = s.Value(telemetry.MetricLoad)
	}

	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  string(entity),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.TimeValueFormatterWithFormat(v, "15:04:05")
			},
		},
		YAxis: chart.YAxis{
			Name:           "Current (A) / Temperature (°C)",
			ValueFormatter: formatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Voltage (kV) / Load",
			ValueFormatter: formatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Current", XValues: x, YValues: current},
			chart.TimeSeries{Name: "Temperature", XValues: x, YValues: temperature},
			chart.TimeSeries{Name: "Voltage", XValues: x, YValues: voltage, YAxis: chart.YAxisSecondary},
			chart.TimeSeries{Name: "Load", XValues: x, YValues: load, YAxis: chart.YAxisSecondary},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
