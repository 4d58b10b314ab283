package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"transformer-telemetry/internal/telemetry"
)

// Notification 封装一次异常告警的上下文。
type Notification struct {
	SessionID     string
	EntityID      telemetry.EntityID
	Kind          telemetry.AnomalyKind
	At            time.Time
	VoltageKV     decimal.Decimal
	CurrentAmps   decimal.Decimal
	TemperatureC  decimal.Decimal
	LoadFactor    decimal.Decimal
	Channels      []string
	AdditionalMsg string
}

// NewNotification renders a classified sample into a notification.
func NewNotification(sessionID string, s telemetry.SmoothedSample, channels []string) Notification {
	return Notification{
		SessionID:    sessionID,
		EntityID:     s.Raw.EntityID,
		Kind:         s.Anomaly,
		At:           s.Raw.Time(),
		VoltageKV:    decimal.NewFromFloat(s.Raw.VoltageKV).Round(2),
		CurrentAmps:  decimal.NewFromFloat(s.Raw.CurrentAmps).Round(1),
		TemperatureC: decimal.NewFromFloat(s.Raw.TemperatureC).Round(1),
		LoadFactor:   decimal.NewFromFloat(s.Raw.LoadFactor).Round(3),
		Channels:     channels,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Str("session", note.SessionID).
		Str("entity", string(note.EntityID)).
		Str("kind", note.Kind.String()).
		Time("at", note.At).
		Str("voltage_kv", note.VoltageKV.String()).
		Str("current_a", note.CurrentAmps.String()).
		Str("temperature_c", note.TemperatureC.String()).
		Str("load", note.LoadFactor.String()).
		Msg("transformer anomaly")
	return nil
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("entity", string(note.EntityID)).
		Str("kind", note.Kind.String()).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Transformer Alert]\n")
	builder.WriteString(fmt.Sprintf("Entity: %s\n", note.EntityID))
	builder.WriteString(fmt.Sprintf("Anomaly: %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Voltage: %s kV\n", note.VoltageKV.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Current: %s A\n", note.CurrentAmps.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Temperature: %s °C\n", note.TemperatureC.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Load: %s\n", note.LoadFactor.StringFixed(3)))
	if note.SessionID != "" {
		builder.WriteString(fmt.Sprintf("Session: %s\n", note.SessionID))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
