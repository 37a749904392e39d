// Package health implements periodic health checks for a battlewire
// node: router loop responsiveness, peer capacity and free disk space
// where the journal is written.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/node"
	"github.com/critterbox/battlewire/internal/util"
)

// Level grades a check or a whole report.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

func (l Level) rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	default:
		return 0
	}
}

const (
	loopTimeout     = 2 * time.Second
	diskFullPercent = 98.0
)

// Check is the outcome of one health check.
type Check struct {
	Name    string `json:"name"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Report is the outcome of one round of checks.
type Report struct {
	Level     Level     `json:"level"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether no check is critical.
func (r Report) Healthy() bool {
	return r.Level != LevelCritical
}

// Target is the node being checked.
type Target interface {
	Status(ctx context.Context) (node.Status, error)
}

// Manager runs health checks against a node.
type Manager struct {
	cfg      config.HealthConfig
	maxPeers int
	diskPath string
	target   Target
	eventBus *events.EventBus
	logger   zerolog.Logger

	diskUsage func(path string) (*util.DiskUsage, error)

	mu   sync.RWMutex
	last Report
}

// NewManager creates a health check manager for target. bus may be nil.
func NewManager(cfg *config.Config, target Target, bus *events.EventBus) *Manager {
	m := &Manager{
		cfg:       cfg.Health,
		target:    target,
		eventBus:  bus,
		logger:    util.ComponentLogger("health"),
		diskUsage: util.GetDiskUsage,
		diskPath:  ".",
	}
	if cfg.Network.Role == config.RoleServer {
		m.maxPeers = cfg.Network.MaxPeers
	}
	if cfg.Journal.Enabled && cfg.Journal.Path != "" {
		m.diskPath = filepath.Dir(cfg.Journal.Path)
	}
	return m
}

// Check runs every check now, stores the report and returns it. A change
// of the overall level is logged and emitted as EventHealthChanged.
func (m *Manager) Check(ctx context.Context) Report {
	report := Report{Level: LevelOK, CheckedAt: time.Now()}

	st, loop := m.checkLoop(ctx)
	report.Checks = append(report.Checks, loop)
	if loop.Level != LevelCritical && m.maxPeers > 0 {
		report.Checks = append(report.Checks, m.checkPeers(st))
	}
	report.Checks = append(report.Checks, m.checkDisk())

	var problems []string
	for _, c := range report.Checks {
		if c.Level.rank() > report.Level.rank() {
			report.Level = c.Level
		}
		if c.Level != LevelOK {
			problems = append(problems, c.Name+": "+c.Message)
		}
	}

	m.mu.Lock()
	previous := m.last.Level
	m.last = report
	m.mu.Unlock()

	if previous != report.Level {
		ev := m.logger.Info()
		if report.Level != LevelOK {
			ev = m.logger.Warn().Strs("problems", problems)
		}
		ev.Str("level", string(report.Level)).Str("previous", string(previous)).Msg("node health changed")

		if m.eventBus != nil {
			m.eventBus.Emit(ctx, events.Event{
				Type:   events.EventHealthChanged,
				Source: "health",
				Payload: events.HealthPayload{
					Level:    string(report.Level),
					Previous: string(previous),
					Problems: problems,
				},
			})
		}
	}
	return report
}

// Report returns the last report, running the checks first if none has
// run yet.
func (m *Manager) Report(ctx context.Context) Report {
	m.mu.RLock()
	last := m.last
	m.mu.RUnlock()
	if last.CheckedAt.IsZero() {
		return m.Check(ctx)
	}
	return last
}

// checkLoop measures how long the router loop takes to answer a status
// query.
func (m *Manager) checkLoop(ctx context.Context) (node.Status, Check) {
	c := Check{Name: "router_loop", Level: LevelOK}

	ctx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()

	start := time.Now()
	st, err := m.target.Status(ctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		c.Level = LevelCritical
		c.Message = fmt.Sprintf("router loop unresponsive: %v", err)
	case m.cfg.SlowLoopMs > 0 && elapsed > m.cfg.SlowLoop():
		c.Level = LevelWarning
		c.Message = fmt.Sprintf("router loop answered in %s (limit %s)", elapsed.Round(time.Millisecond), m.cfg.SlowLoop())
	default:
		c.Message = fmt.Sprintf("answered in %s", elapsed.Round(time.Microsecond))
	}
	return st, c
}

func (m *Manager) checkPeers(st node.Status) Check {
	c := Check{Name: "peers", Level: LevelOK}
	used := float64(st.Peers) * 100 / float64(m.maxPeers)
	c.Message = fmt.Sprintf("%d of %d peer slots in use", st.Peers, m.maxPeers)

	switch {
	case st.Peers >= m.maxPeers:
		c.Level = LevelCritical
	case m.cfg.PeerWarnPercent > 0 && used >= m.cfg.PeerWarnPercent:
		c.Level = LevelWarning
	}
	return c
}

func (m *Manager) checkDisk() Check {
	c := Check{Name: "disk", Level: LevelOK}

	usage, err := m.diskUsage(m.diskPath)
	if err != nil {
		c.Level = LevelWarning
		c.Message = fmt.Sprintf("disk usage unavailable for %s: %v", m.diskPath, err)
		return c
	}

	c.Message = fmt.Sprintf("%.1f%% used, %d GB free", usage.UsedPercent, usage.Free)
	switch {
	case usage.UsedPercent >= diskFullPercent:
		c.Level = LevelCritical
	case m.cfg.DiskWarnPercent > 0 && usage.UsedPercent >= m.cfg.DiskWarnPercent:
		c.Level = LevelWarning
	}
	return c
}
