package scheduler

import (
	"context"
	"log/slog"
)

// NumberSweeper is satisfied by internal/numbers.Service.
type NumberSweeper interface {
	ProcessCancelPendingSweep(ctx context.Context, limit int) (released int, recovered int, err error)
	MonthlyBillingSweep(ctx context.Context, limit int) (billed int, err error)
	RoutingSweep(ctx context.Context, limit int, roomCreationAPI, namePrefix string) (converged int, err error)
}

// CallBackfiller is satisfied by internal/calls.Service.
type CallBackfiller interface {
	BackfillUnbilledAll(ctx context.Context, limit int) (int, error)
}

// DialerDriver is satisfied by internal/dialer.Service.
type DialerDriver interface {
	Tick(ctx context.Context, limit int) (dialed int, err error)
	BackfillUnbilledAll(ctx context.Context, limit int) (int, error)
}

// BuildSteps assembles the standard sweep order: number lifecycle first
// (release expired cancellations, bill what's due), then unbilled-call
// backfills for both inbound and dialer traffic, then the dialer's own
// campaign tick, then routing convergence last so it sees this tick's
// freshly-posted charges before deciding whether to re-enable inbound.
func BuildSteps(numbers NumberSweeper, calls CallBackfiller, dialer DialerDriver, limit int, roomCreationAPI, namePrefix string, log *slog.Logger) []Step {
	if log == nil {
		log = slog.Default()
	}
	return []Step{
		{
			Name: "numbers.cancel_pending_sweep",
			Run: func(ctx context.Context) error {
				released, recovered, err := numbers.ProcessCancelPendingSweep(ctx, limit)
				if err == nil && (released > 0 || recovered > 0) {
					log.Info("cancel-pending sweep", "released", released, "recovered", recovered)
				}
				return err
			},
		},
		{
			Name: "numbers.monthly_billing_sweep",
			Run: func(ctx context.Context) error {
				billed, err := numbers.MonthlyBillingSweep(ctx, limit)
				if err == nil && billed > 0 {
					log.Info("monthly billing sweep", "billed", billed)
				}
				return err
			},
		},
		{
			Name: "calls.backfill_unbilled",
			Run: func(ctx context.Context) error {
				n, err := calls.BackfillUnbilledAll(ctx, limit)
				if err == nil && n > 0 {
					log.Info("inbound call backfill", "charged", n)
				}
				return err
			},
		},
		{
			Name: "dialer.backfill_unbilled",
			Run: func(ctx context.Context) error {
				n, err := dialer.BackfillUnbilledAll(ctx, limit)
				if err == nil && n > 0 {
					log.Info("dialer call backfill", "charged", n)
				}
				return err
			},
		},
		{
			Name: "dialer.tick",
			Run: func(ctx context.Context) error {
				n, err := dialer.Tick(ctx, limit)
				if err == nil && n > 0 {
					log.Info("dialer tick", "dialed", n)
				}
				return err
			},
		},
		{
			Name: "numbers.routing_sweep",
			Run: func(ctx context.Context) error {
				n, err := numbers.RoutingSweep(ctx, limit, roomCreationAPI, namePrefix)
				if err == nil && n > 0 {
					log.Info("routing sweep", "converged", n)
				}
				return err
			},
		},
	}
}
