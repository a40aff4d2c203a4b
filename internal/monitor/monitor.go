// Package monitor tracks prover health in-process. Metrics are exposed as
// copied snapshots and logged through zap; there is no scrape endpoint.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"shardprover/internal/logging"
)

// AlertLevel orders alerts by urgency.
type AlertLevel int

const (
	LevelInfo AlertLevel = iota
	LevelWarning
	LevelCritical
)

func (l AlertLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// AlertCategory groups alerts by subsystem.
type AlertCategory string

const (
	CategoryPerformance AlertCategory = "performance"
	CategoryHardware    AlertCategory = "hardware"
	CategoryReliability AlertCategory = "reliability"
)

// Alert is one raised condition. Alerts stay visible until acknowledged.
type Alert struct {
	ID           int
	Timestamp    time.Time
	Level        AlertLevel
	Category     AlertCategory
	Message      string
	DeviceID     int // -1 when not device-specific
	Acknowledged bool
}

// DeviceMetrics aggregates per-device proving activity.
type DeviceMetrics struct {
	DeviceID     int
	ProofsServed uint64
	Errors       uint64
	TotalTime    time.Duration
}

// Metrics is a point-in-time health snapshot.
type Metrics struct {
	ProofsCompleted uint64
	ProofsFailed    uint64
	DeadlineMisses  uint64
	FastestProof    time.Duration
	SlowestProof    time.Duration
	AverageProof    time.Duration
	Devices         map[int]DeviceMetrics
}

// SuccessRate returns the fraction of shard executions that succeeded.
func (m Metrics) SuccessRate() float64 {
	total := m.ProofsCompleted + m.ProofsFailed
	if total == 0 {
		return 1.0
	}
	return float64(m.ProofsCompleted) / float64(total)
}

// Monitor accumulates metrics and raises leveled alerts. Safe for
// concurrent use.
type Monitor struct {
	mu sync.Mutex

	proofsCompleted uint64
	proofsFailed    uint64
	deadlineMisses  uint64
	fastest         time.Duration
	slowest         time.Duration
	totalTime       time.Duration
	devices         map[int]*DeviceMetrics

	alerts      []Alert
	nextAlertID int

	// ErrorRateThreshold raises a reliability alert when the failure
	// fraction crosses it. Zero disables the check.
	ErrorRateThreshold float64

	logger *zap.Logger
}

// New builds an empty monitor.
func New() *Monitor {
	return &Monitor{
		devices:            make(map[int]*DeviceMetrics),
		ErrorRateThreshold: 0.2,
		logger:             logging.Get(logging.CategoryMonitor),
	}
}

// RecordProof records one shard execution outcome on a device.
func (m *Monitor) RecordProof(deviceID int, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev := m.devices[deviceID]
	if dev == nil {
		dev = &DeviceMetrics{DeviceID: deviceID}
		m.devices[deviceID] = dev
	}

	if success {
		m.proofsCompleted++
		m.totalTime += duration
		dev.ProofsServed++
		dev.TotalTime += duration
		if m.fastest == 0 || duration < m.fastest {
			m.fastest = duration
		}
		if duration > m.slowest {
			m.slowest = duration
		}
	} else {
		m.proofsFailed++
		dev.Errors++
	}

	m.checkErrorRate()
}

// RecordDeadlineMiss records a request aborted for missing its deadline.
func (m *Monitor) RecordDeadlineMiss(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlineMisses++
	m.raise(LevelWarning, CategoryPerformance, -1,
		fmt.Sprintf("request %s aborted on deadline", requestID))
}

// checkErrorRate raises once each time the failure fraction crosses the
// threshold. Caller holds the lock.
func (m *Monitor) checkErrorRate() {
	if m.ErrorRateThreshold <= 0 {
		return
	}
	total := m.proofsCompleted + m.proofsFailed
	if total < 5 {
		return
	}
	rate := float64(m.proofsFailed) / float64(total)
	if rate >= m.ErrorRateThreshold {
		m.raise(LevelCritical, CategoryReliability, -1,
			fmt.Sprintf("shard failure rate %.0f%% over %d executions", rate*100, total))
	}
}

// raise appends an alert. Caller holds the lock. Duplicate messages
// collapse onto the existing unacknowledged alert.
func (m *Monitor) raise(level AlertLevel, category AlertCategory, deviceID int, message string) {
	for i := range m.alerts {
		if !m.alerts[i].Acknowledged && m.alerts[i].Message == message {
			m.alerts[i].Timestamp = time.Now()
			return
		}
	}
	alert := Alert{
		ID:        m.nextAlertID,
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
		DeviceID:  deviceID,
	}
	m.nextAlertID++
	m.alerts = append(m.alerts, alert)
	m.logger.Warn("alert raised",
		zap.String("level", level.String()),
		zap.String("category", string(category)),
		zap.String("message", message))
}

// RaiseHardware records a device-specific hardware alert.
func (m *Monitor) RaiseHardware(deviceID int, level AlertLevel, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raise(level, CategoryHardware, deviceID, message)
}

// Acknowledge marks an alert handled. Unknown IDs are ignored.
func (m *Monitor) Acknowledge(alertID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// ActiveAlerts returns unacknowledged alerts, newest last.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []Alert
	for _, a := range m.alerts {
		if !a.Acknowledged {
			active = append(active, a)
		}
	}
	return active
}

// Snapshot copies the current metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make(map[int]DeviceMetrics, len(m.devices))
	for id, d := range m.devices {
		devices[id] = *d
	}
	snap := Metrics{
		ProofsCompleted: m.proofsCompleted,
		ProofsFailed:    m.proofsFailed,
		DeadlineMisses:  m.deadlineMisses,
		FastestProof:    m.fastest,
		SlowestProof:    m.slowest,
		Devices:         devices,
	}
	if m.proofsCompleted > 0 {
		snap.AverageProof = m.totalTime / time.Duration(m.proofsCompleted)
	}
	return snap
}
