package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/trovewatch/internal/config"
	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/server"
	"github.com/alanyoungcy/trovewatch/internal/server/handler"
	"github.com/alanyoungcy/trovewatch/internal/server/ws"
	"github.com/alanyoungcy/trovewatch/internal/service"
)

// ScanMode runs one scan, publishes it to every configured sink and prints the
// report.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	monitor := a.newMonitor(deps, deps.SignalBus, deps.Notifier)
	result, err := monitor.RunOnce(ctx)
	if err != nil {
		return err
	}
	return WriteReport(a.out, result)
}

// MonitorMode scans on the configured interval until ctx is cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.newMonitor(deps, deps.SignalBus, deps.Notifier).Run(ctx)
}

// RedeemMode plans and submits one redemption of redemption.amount.
func (a *App) RedeemMode(ctx context.Context, deps *Dependencies) error {
	amount, err := config.Amount(a.cfg.Redemption.Amount)
	if err != nil {
		return fmt.Errorf("redeem mode: amount: %w", err)
	}
	res, err := a.newRedemptions(deps).Redeem(ctx, amount)
	if err != nil {
		return fmt.Errorf("redeem mode: %w", err)
	}
	_, err = fmt.Fprintf(a.out, "redeemed %s MUSD at block %d: tx %s\n",
		fixedpoint.FormatAmount(res.Plan.TruncatedAmount, 2), res.Plan.BlockNumber, res.TxHash.Hex())
	return err
}

// ServerMode runs the monitor loop behind the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	return a.serve(ctx, deps, false)
}

// FullMode is ServerMode plus automatic redemption whenever a live scan finds
// redeemable positions.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.serve(ctx, deps, true)
}

func (a *App) serve(ctx context.Context, deps *Dependencies, autoSubmit bool) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Bool("auto_submit", autoSubmit))

	g, ctx := errgroup.WithContext(ctx)

	// The hub relays from Redis when it is wired and is fed directly otherwise.
	var monitor *service.MonitorService
	latest := func(ctx context.Context) (domain.ScanResult, error) { return monitor.Latest(ctx) }
	hub := ws.NewHub(deps.SignalBus, nil, latest, a.logger)
	bus := deps.SignalBus
	if bus == nil {
		bus = hubBus{hub: hub}
	}

	redemptions := a.newRedemptions(deps)
	var alerts service.ScanAlerter = deps.Notifier
	if autoSubmit {
		amount, err := config.Amount(a.cfg.Redemption.Amount)
		if err != nil {
			return fmt.Errorf("full mode: amount: %w", err)
		}
		alerts = &autoRedeemer{
			next:        deps.Notifier,
			redemptions: redemptions,
			amount:      amount,
			logger:      a.logger,
		}
	}
	monitor = a.newMonitor(deps, bus, alerts)

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		ScanRateLimit: a.cfg.Server.ScanRateLimit,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Scans:  handler.NewScanHandler(monitor, a.logger),
		Hints:  handler.NewHintHandler(redemptions, a.cfg.Redemption.AllowRemote && deps.Submitter != nil, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(monitor.Run(ctx)) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

func (a *App) newMonitor(deps *Dependencies, bus domain.SignalBus, alerts service.ScanAlerter) *service.MonitorService {
	opts := service.MonitorOptions{
		Interval:       a.cfg.Scan.Interval.Duration,
		ArchiveReports: a.cfg.S3.ArchiveReports,
	}
	if deps.Archiver != nil {
		opts.Retention = a.cfg.S3.Retention.Duration
		opts.ArchiveInterval = a.cfg.S3.ArchiveInterval.Duration
	}
	return service.NewMonitorService(
		deps.Scanner,
		deps.ReportCache,
		bus,
		deps.ScanStore,
		deps.Archiver,
		alerts,
		opts,
		a.logger,
	)
}

func (a *App) newRedemptions(deps *Dependencies) *service.RedemptionService {
	return service.NewRedemptionService(
		deps.Gateway,
		deps.Scanner,
		deps.Calculator,
		deps.Submitter,
		deps.LockManager,
		deps.RedemptionStore,
		deps.AuditStore,
		deps.Notifier,
		RedemptionOptions(a.cfg.Redemption),
		a.logger,
	)
}

// Redeemer submits a redemption of amount.
type Redeemer interface {
	Redeem(ctx context.Context, amount *big.Int) (service.RedemptionResult, error)
}

// autoRedeemer forwards scan alerts and redeems after every live scan that
// found redeemable positions.
type autoRedeemer struct {
	next        service.ScanAlerter
	redemptions Redeemer
	amount      *big.Int
	logger      *slog.Logger
}

func (r *autoRedeemer) ScanAlerts(ctx context.Context, result domain.ScanResult) error {
	var alertErr error
	if r.next != nil {
		alertErr = r.next.ScanAlerts(ctx, result)
	}
	if result.Degraded() || result.Counts.Redeemable == 0 {
		return alertErr
	}

	res, err := r.redemptions.Redeem(ctx, r.amount)
	switch {
	case errors.Is(err, domain.ErrNothingRedeemable), errors.Is(err, domain.ErrLockHeld):
		r.logger.InfoContext(ctx, "auto redemption skipped", slog.String("reason", err.Error()))
	case err != nil:
		r.logger.ErrorContext(ctx, "auto redemption failed", slog.String("error", err.Error()))
	default:
		r.logger.InfoContext(ctx, "auto redemption submitted",
			slog.String("tx", res.TxHash.Hex()),
			slog.String("amount", fixedpoint.FormatAmount(res.Plan.TruncatedAmount, 2)),
		)
	}
	return alertErr
}

// hubBus publishes straight to the WebSocket hub when no Redis bus is wired.
type hubBus struct {
	hub *ws.Hub
}

func (b hubBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.hub.Publish(ctx, channel, payload)
	return nil
}

func (hubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("app: hub bus does not support subscribe")
}

func (hubBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (hubBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// WriteReport prints a scan as a short header plus the redemption target table.
func WriteReport(w io.Writer, result domain.ScanResult) error {
	price := fixedpoint.FormatAmount(result.Price.Value, 2)
	if result.Price.Fallback {
		price += " (fallback)"
	}
	c := result.Counts
	if _, err := fmt.Fprintf(w, "scan %s mode=%s block=%d price=%s\n"+
		"traversed=%d active=%d redeemable=%d at_risk=%d safe=%d closed=%d unevaluable=%d\n",
		result.ID, result.Mode, result.BlockNumber, price,
		c.Traversed, c.Active, c.Redeemable, c.AtRisk, c.Safe, c.Closed, c.Unevaluable,
	); err != nil {
		return err
	}
	if len(result.Redeemable) == 0 {
		_, err := fmt.Fprintln(w, "no redemption targets")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tICR\tDEBT\tCOLLATERAL")
	for i, p := range result.Redeemable {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, p.ID.Hex(),
			fixedpoint.FormatPercent(p.ICR),
			fixedpoint.FormatAmount(p.Debt, 2),
			fixedpoint.FormatAmount(p.Collateral, 6),
		)
	}
	return tw.Flush()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
