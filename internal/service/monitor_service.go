package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// Scanner runs one full scan.
type Scanner interface {
	Scan(ctx context.Context) (domain.ScanResult, error)
}

// ScanAlerter sends the alerts a scan warrants.
type ScanAlerter interface {
	ScanAlerts(ctx context.Context, result domain.ScanResult) error
}

// MonitorOptions configures the scan loop.
type MonitorOptions struct {
	Interval time.Duration
	// Retention is how long scan rows stay in the primary store before
	// ArchiveScans moves them out. Zero disables archiving.
	Retention       time.Duration
	ArchiveInterval time.Duration
	// ArchiveReports uploads every full scan report to object storage.
	ArchiveReports bool
}

// MonitorService runs scans on an interval and fans each result out to the
// report cache, the signal bus, the scan store, object storage and alerts.
// Every sink is optional and a sink failure never fails the scan.
type MonitorService struct {
	scanner  Scanner
	cache    domain.ReportCache
	bus      domain.SignalBus
	scans    domain.ScanStore
	archiver domain.Archiver
	alerts   ScanAlerter
	opts     MonitorOptions
	logger   *slog.Logger

	mu          sync.RWMutex
	latest      *domain.ScanResult
	lastArchive time.Time
	now         func() time.Time
}

// NewMonitorService creates a MonitorService. Only scanner is required.
func NewMonitorService(
	scanner Scanner,
	cache domain.ReportCache,
	bus domain.SignalBus,
	scans domain.ScanStore,
	archiver domain.Archiver,
	alerts ScanAlerter,
	opts MonitorOptions,
	logger *slog.Logger,
) *MonitorService {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.ArchiveInterval <= 0 {
		opts.ArchiveInterval = 24 * time.Hour
	}
	return &MonitorService{
		scanner:  scanner,
		cache:    cache,
		bus:      bus,
		scans:    scans,
		archiver: archiver,
		alerts:   alerts,
		opts:     opts,
		logger:   logger.With(slog.String("component", "monitor")),
		now:      time.Now,
	}
}

// Run scans immediately and then on every interval until ctx is done.
func (m *MonitorService) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor started", slog.Duration("interval", m.opts.Interval))

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
		}
		m.maybeArchive(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one scan and publishes it.
func (m *MonitorService) RunOnce(ctx context.Context) (domain.ScanResult, error) {
	result, err := m.scanner.Scan(ctx)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("monitor: scan: %w", err)
	}

	m.mu.Lock()
	m.latest = &result
	m.mu.Unlock()

	m.publish(ctx, result)
	return result, nil
}

// Latest returns the newest report, preferring the shared cache so every
// replica serves the same view.
func (m *MonitorService) Latest(ctx context.Context) (domain.ScanResult, error) {
	if m.cache != nil {
		result, err := m.cache.GetLatest(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "report cache read failed", slog.String("error", err.Error()))
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return domain.ScanResult{}, fmt.Errorf("monitor: latest report: %w", domain.ErrNotFound)
	}
	return *m.latest, nil
}

// History lists persisted scan summaries.
func (m *MonitorService) History(ctx context.Context, opts domain.ListOpts) ([]domain.ScanSummary, error) {
	if m.scans == nil {
		return nil, nil
	}
	out, err := m.scans.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("monitor: history: %w", err)
	}
	return out, nil
}

func (m *MonitorService) publish(ctx context.Context, result domain.ScanResult) {
	logFail := func(sink string, err error) {
		m.logger.WarnContext(ctx, "scan sink failed",
			slog.String("sink", sink),
			slog.String("scan_id", result.ID),
			slog.String("error", err.Error()),
		)
	}

	if m.cache != nil {
		if err := m.cache.SetLatest(ctx, result); err != nil {
			logFail("cache", err)
		}
	}

	if m.bus != nil {
		payload, err := json.Marshal(NewScanEvent(result))
		if err != nil {
			logFail("bus", err)
		} else {
			if err := m.bus.Publish(ctx, domain.ChannelScans, payload); err != nil {
				logFail("bus", err)
			}
			if err := m.bus.StreamAppend(ctx, domain.StreamScans, payload); err != nil {
				logFail("stream", err)
			}
		}
	}

	if m.scans != nil {
		if err := m.scans.Insert(ctx, Summarize(result)); err != nil {
			logFail("store", err)
		}
	}

	if m.archiver != nil && m.opts.ArchiveReports {
		if path, err := m.archiver.PutReport(ctx, result); err != nil {
			logFail("archive", err)
		} else {
			m.logger.DebugContext(ctx, "scan report archived", slog.String("path", path))
		}
	}

	if m.alerts != nil {
		if err := m.alerts.ScanAlerts(ctx, result); err != nil {
			logFail("alerts", err)
		}
	}
}

func (m *MonitorService) maybeArchive(ctx context.Context) {
	if m.archiver == nil || m.opts.Retention <= 0 {
		return
	}
	now := m.now()
	m.mu.Lock()
	due := now.Sub(m.lastArchive) >= m.opts.ArchiveInterval
	if due {
		m.lastArchive = now
	}
	m.mu.Unlock()
	if !due {
		return
	}

	n, err := m.archiver.ArchiveScans(ctx, now.Add(-m.opts.Retention))
	if err != nil {
		m.logger.ErrorContext(ctx, "scan history archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "scan history archived", slog.Int64("count", n))
	}
}

// NewScanEvent builds the bus payload for a finished scan.
func NewScanEvent(result domain.ScanResult) domain.ScanEvent {
	return domain.ScanEvent{
		Type:        "scan_completed",
		ScanID:      result.ID,
		Mode:        result.Mode,
		Degraded:    result.Degraded(),
		BlockNumber: result.BlockNumber,
		Counts:      result.Counts,
		Price:       fixedpoint.FormatAmount(result.Price.Value, 2),
	}
}

// Summarize reduces a scan to its persisted row.
func Summarize(result domain.ScanResult) domain.ScanSummary {
	return domain.ScanSummary{
		ID:            result.ID,
		Mode:          result.Mode,
		Price:         fixedpoint.FormatAmount(result.Price.Value, 18),
		PriceFallback: result.Price.Fallback,
		BlockNumber:   result.BlockNumber,
		Counts:        result.Counts,
		Redeemable:    result.Redeemable,
		StartedAt:     result.StartedAt,
		Duration:      result.Duration,
	}
}
