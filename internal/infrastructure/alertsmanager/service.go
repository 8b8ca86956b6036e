package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lockforge/lockd/internal/core/ports"
	"github.com/shopspring/decimal"
)

const (
	serviceName = "lockd"
	severity    = "info"

	maxRetries = 5
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl       string
	tokenSymbol   string
	tokenDecimals int32
	httpClient    *http.Client
}

// NewService returns an Alertmanager client. Amounts in alerts are base
// units of a token with the given symbol and decimals.
func NewService(alertManagerURL, tokenSymbol string, tokenDecimals int32) ports.Alerts {
	return &service{
		baseUrl:       alertManagerURL,
		tokenSymbol:   tokenSymbol,
		tokenDecimals: tokenDecimals,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  severity,
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.CycleDistributed:
		annotations["firing_title"] = "🎯 Cycle Distributed"
		m, ok := message.(ports.CycleDistributedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = s.formatCycleDistributedAlert(m)
		labels["cycle"] = fmt.Sprintf("%d", m.Cycle)
	case ports.GaugeKilled:
		annotations["firing_title"] = "⛔ Gauge Killed"
		m, ok := message.(ports.GaugeKilledAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatGenericAlert(map[string]any{
			"gauge":     m.GaugeID,
			"recipient": m.Recipient,
			"cycle":     m.Cycle,
		})
		labels["gauge_id"] = fmt.Sprintf("%d", m.GaugeID)
		labels["severity"] = "warning"
	case ports.PositionClosed:
		annotations["firing_title"] = "🔓 Position Closed"
		m, ok := message.(ports.PositionClosedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatGenericAlert(map[string]any{
			"position":  m.PositionID,
			"recipient": m.Recipient,
			"amount":    s.formatAmount(m.Amount),
			"cycle":     m.Cycle,
		})
		labels["position_id"] = fmt.Sprintf("%d", m.PositionID)
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alerts Alert) error {
	payload, err := json.Marshal([]Alert{alerts})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	baseDelay := 100 * time.Millisecond

	for attempt := range maxRetries {
		req, err := http.NewRequestWithContext(ctx, "POST", s.baseUrl, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			// Network error - retry with backoff
			if attempt < maxRetries-1 {
				// exponential: 100ms, 200ms, 400ms, 800ms, 1600ms
				delay := baseDelay * time.Duration(1<<uint(attempt))

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return fmt.Errorf("failed to send alert after %d attempts: %w", maxRetries, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			return nil
		}

		_ = resp.Body.Close()

		// Retry on 5xx (server errors), but not on 4xx (client errors)
		if resp.StatusCode >= 500 {
			if attempt < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<uint(attempt))

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		// 4xx error or final 5xx error
		return fmt.Errorf(
			"failed to send alert to AlertManager with status %d after %d attempts",
			resp.StatusCode, attempt+1,
		)
	}

	return fmt.Errorf("failed to send alert after %d attempts", maxRetries)
}

func (s *service) formatCycleDistributedAlert(data ports.CycleDistributedAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*Cycle:* `%d`", data.Cycle))

	lines = append(lines, "\n*Emissions:*")
	lines = append(lines, fmt.Sprintf("• Inflation: %s", s.formatAmount(data.Inflation)))
	lines = append(lines, fmt.Sprintf("• Distributed: %s", s.formatAmount(data.Distributed)))
	lines = append(lines, fmt.Sprintf("• Total weight: %s", data.TotalWeight))

	lines = append(lines, "\n*Breakdown:*")
	if data.Duration != "" {
		lines = append(lines, fmt.Sprintf("• Duration: %s", data.Duration))
	}
	lines = append(lines, fmt.Sprintf("• Gauges: %d", data.GaugeCount))
	lines = append(lines, fmt.Sprintf("• Killed gauges skipped: %d", data.SkippedCount))
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, data[key]))
	}
	return strings.Join(lines, "\n")
}

// formatAmount renders base units as whole tokens, trailing zeros trimmed.
func (s *service) formatAmount(amount string) string {
	if amount == "" {
		return "0 " + s.tokenSymbol
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return amount
	}
	return fmt.Sprintf("%s %s", d.Shift(-s.tokenDecimals).String(), s.tokenSymbol)
}
