package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"transformer-telemetry/internal/alerting"
	"transformer-telemetry/internal/telemetry"
)

// Classify 对单条测量进行判定，并可选地触发一次测试告警。
func (a *App) Classify(ctx context.Context, out io.Writer, opts ClassifyOptions) (telemetry.AnomalyKind, error) {
	entity := opts.Entity
	if entity == "" {
		entity = "manual"
	}

	m := telemetry.Measurement{
		EntityID:        telemetry.EntityID(entity),
		TimestampMillis: time.Now().UTC().UnixMilli(),
		VoltageKV:       opts.VoltageKV,
		CurrentAmps:     opts.CurrentAmps,
		TemperatureC:    opts.TemperatureC,
		LoadFactor:      opts.LoadFactor,
	}
	kind := telemetry.Classify(m, a.Config.Thresholds)
	fmt.Fprintln(out, kind.String())

	if !opts.Notify {
		return kind, nil
	}
	if kind == telemetry.AnomalyNone {
		a.Logger.Info().Msg("测量正常，无需告警")
		return kind, nil
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return kind, errors.New("alerting 未启用或未配置任何告警通道")
	}

	sample := telemetry.SmoothedSample{
		Raw:                  m,
		SmoothedVoltageKV:    m.VoltageKV,
		SmoothedCurrentAmps:  m.CurrentAmps,
		SmoothedTemperatureC: m.TemperatureC,
		Anomaly:              kind,
	}
	note := alerting.NewNotification(uuid.NewString(), sample, a.Config.Alerting.Channels)
	note.AdditionalMsg = "manual classification"
	if err := notifier.Notify(ctx, note); err != nil {
		return kind, fmt.Errorf("send test alert: %w", err)
	}
	return kind, nil
}
