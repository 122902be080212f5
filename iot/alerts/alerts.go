// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package alerts raises danger alerts from device reports.

A report is dangerous if it carries "isFire": true or a gas level above the
threshold. Fire wins if both apply. Each alert type has its own cooldown, alerts
raised within the cooldown are suppressed. Dispatching happens in the background
and never delays the device request.
*/
package alerts

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
)

// Alert types
const (
	TypeFire = "fire"
	TypeGas  = "gas"
)

// Defaults for the Builder
const (
	DefaultGasThreshold = 700
	DefaultCooldown     = 30 * time.Second
)

// Alert is a push notification job
type Alert struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// Reading is what the device reported. Gas is nil if the report did not
// contain a gas level.
type Reading struct {
	Gas    *int
	IsFire bool
}

// Dispatcher delivers alerts somewhere
type Dispatcher interface {
	Dispatch(ctx context.Context, alert Alert) error
}

// Builder is a builder helper for the Monitor
type Builder struct {
	// Dispatcher is mandatory
	Dispatcher Dispatcher
	// GasThreshold defaults to DefaultGasThreshold
	GasThreshold int
	// Cooldown defaults to DefaultCooldown
	Cooldown time.Duration
	// Clock defaults to the real clock
	Clock clockwork.Clock
}

// Monitor checks readings and dispatches alerts
type Monitor struct {
	dispatcher Dispatcher
	threshold  int
	cooldown   time.Duration
	clock      clockwork.Clock

	mu   sync.Mutex
	last map[string]time.Time

	inflight sync.WaitGroup
}

// MustNewMonitor creates a monitor
func MustNewMonitor(b *Builder) *Monitor {
	if b.Dispatcher == nil {
		panic("Dispatcher is missing")
	}
	m := &Monitor{
		dispatcher: b.Dispatcher,
		threshold:  b.GasThreshold,
		cooldown:   b.Cooldown,
		clock:      b.Clock,
		last:       make(map[string]time.Time),
	}
	if m.threshold <= 0 {
		m.threshold = DefaultGasThreshold
	}
	if m.cooldown <= 0 {
		m.cooldown = DefaultCooldown
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	return m
}

// Classify returns the alert type for r, or "" if r is harmless
func (m *Monitor) Classify(r Reading) string {
	if r.IsFire {
		return TypeFire
	}
	if r.Gas != nil && *r.Gas > m.threshold {
		return TypeGas
	}
	return ""
}

// Observe checks r and starts dispatching an alert if r is dangerous and the
// alert type is not in cooldown. It returns the started alert.
func (m *Monitor) Observe(ctx context.Context, r Reading) (*Alert, bool) {
	alertType := m.Classify(r)
	if alertType == "" {
		return nil, false
	}
	rlog := logger.FromContext(ctx)

	now := m.clock.Now()
	m.mu.Lock()
	if last, ok := m.last[alertType]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		remaining := m.cooldown - now.Sub(last)
		rlog.Debugf("%s alert in cooldown, %ds remaining", alertType, int(remaining.Round(time.Second).Seconds()))
		metrics.Alerts.WithLabelValues(alertType, "cooldown").Inc()
		return nil, false
	}
	m.last[alertType] = now
	m.mu.Unlock()

	alert := m.newAlert(alertType, r, now)
	rlog.Warnf("danger detected: %s", alertType)

	ctx = context.WithoutCancel(ctx)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.dispatcher.Dispatch(ctx, alert); err != nil {
			rlog.WithError(err).Errorf("cannot dispatch %s alert", alert.Type)
			metrics.Alerts.WithLabelValues(alert.Type, "failed").Inc()
			return
		}
		metrics.Alerts.WithLabelValues(alert.Type, "sent").Inc()
	}()
	return &alert, true
}

// Wait blocks until all started dispatches have finished
func (m *Monitor) Wait() {
	m.inflight.Wait()
}

func (m *Monitor) newAlert(alertType string, r Reading, now time.Time) Alert {
	alert := Alert{
		Type:      alertType,
		Data:      map[string]string{"type": alertType},
		Timestamp: now,
	}
	gas := "N/A"
	if r.Gas != nil {
		gas = strconv.Itoa(*r.Gas)
		alert.Data["gas"] = gas
	}
	switch alertType {
	case TypeFire:
		alert.Title = "Fire detected!"
		alert.Body = "The flame sensor detected fire. Check immediately!"
	case TypeGas:
		alert.Title = "Gas leak!"
		alert.Body = fmt.Sprintf("Gas level: %s ppm (danger threshold: %d ppm)", gas, m.threshold)
	}
	return alert
}
