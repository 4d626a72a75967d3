package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/clock"
	"github.com/buildtall-systems/ticketbot/internal/config"
	"github.com/buildtall-systems/ticketbot/internal/countdown"
	"github.com/buildtall-systems/ticketbot/internal/db"
	"github.com/buildtall-systems/ticketbot/internal/fsm"
	"github.com/buildtall-systems/ticketbot/internal/logging"
	"github.com/buildtall-systems/ticketbot/internal/metrics"
	"github.com/buildtall-systems/ticketbot/internal/notify"
	"github.com/buildtall-systems/ticketbot/internal/provider"
	"github.com/buildtall-systems/ticketbot/internal/solver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Buy the configured ticket",
	Long: `Wait for the configured sale to open and drive the purchase workflow
until the order is confirmed. Exits non-zero if the provider reports a
condition that retrying cannot fix.`,
	RunE: runPurchase,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPurchase(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithSecrets()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ticketbot starting",
		zap.Int64("project_id", cfg.Provider.ProjectID),
		zap.Int64("screen_id", cfg.Provider.ScreenID),
		zap.Int64("sku_id", cfg.Provider.SkuID),
		zap.Int("count", cfg.Provider.Count),
		zap.String("database", cfg.Database.Path),
	)

	journal, err := db.OpenJournal(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	client, err := provider.New(provider.Config{
		BaseURL:         cfg.Provider.BaseURL,
		GaiaURL:         cfg.Provider.GaiaURL,
		Cookie:          cfg.Provider.Cookie,
		ProjectID:       cfg.Provider.ProjectID,
		ScreenID:        cfg.Provider.ScreenID,
		SkuID:           cfg.Provider.SkuID,
		Count:           cfg.Provider.Count,
		BuyerInfo:       cfg.Provider.BuyerInfo,
		RequestInterval: cfg.Provider.RequestInterval,
		Timeout:         cfg.Provider.Timeout,
	}, logger, provider.WithResponseFunc(m.ObserveResponse))
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	var slv fsm.Solver = solver.Disabled{}
	if cfg.Solver.URL != "" {
		slv = solver.NewClient(cfg.Solver.URL, cfg.Solver.Timeout, logger)
	} else {
		logger.Warn("no challenge solver configured, image challenges will not pass")
	}

	notifier := newNotifier(ctx, cfg, logger)

	target := db.Target{ProjectID: cfg.Provider.ProjectID, ScreenID: cfg.Provider.ScreenID, SkuID: cfg.Provider.SkuID}
	run, err := journal.StartRun(ctx, target, time.Now())
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	ctl := fsm.NewController(
		fsm.RunConfig{GraceWindow: cfg.GraceWindow(), HoldBackoff: cfg.Run.HoldBackoff},
		client, slv,
		fsm.WithLogger(logger),
		fsm.WithObserver(db.NewRecorder(journal, run.ID, logger)),
		fsm.WithObserver(m),
		fsm.WithCountdownOptions(countdown.WithProgress(m.ObserveCountdown)),
	)

	runErr := ctl.Run(ctx)
	res := summarize(runErr, client.OrderID())

	// The run context may be cancelled by now; cleanup gets its own.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := journal.FinishRun(cleanupCtx, run.ID, res.Result, res.Detail, time.Now()); err != nil {
		logger.Warn("recording run result failed", zap.Error(err))
	}
	if res.Notify {
		if err := notifier.Notify(cleanupCtx, res.Message(target)); err != nil {
			logger.Warn("operator notification failed", zap.Error(err))
		}
	}

	switch res.Result {
	case db.ResultDone:
		logger.Info("ticket ordered, pay for it before the provider cancels it", zap.String("order_id", client.OrderID()))
		return nil
	case db.ResultAborted:
		logger.Error("purchase aborted", zap.Error(runErr), zap.Duration("exit_in", cfg.Run.FatalGrace))
		_ = logger.Sync()
		_ = clock.System{}.Sleep(context.Background(), cfg.Run.FatalGrace)
		return runErr
	case db.ResultCancelled:
		logger.Info("interrupted, stopping")
		return runErr
	default:
		logger.Error("purchase failed", zap.Error(runErr))
		return runErr
	}
}

// runResult is how a run ended, in journal and notification terms.
type runResult struct {
	Result string
	Detail string
	Notify bool
}

func summarize(err error, orderID string) runResult {
	if err == nil {
		return runResult{Result: db.ResultDone, Detail: "order " + orderID, Notify: true}
	}
	if abort, ok := fsm.IsAbort(err); ok {
		return runResult{Result: db.ResultAborted, Detail: abort.Reason, Notify: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return runResult{Result: db.ResultCancelled, Detail: err.Error()}
	}
	return runResult{Result: db.ResultFailed, Detail: err.Error(), Notify: true}
}

// Message is the operator notification text.
func (r runResult) Message(t db.Target) string {
	subject := fmt.Sprintf("project %d, screen %d, tier %d", t.ProjectID, t.ScreenID, t.SkuID)
	switch r.Result {
	case db.ResultDone:
		return fmt.Sprintf("ticketbot: %s placed for %s. Pay for it now.", r.Detail, subject)
	case db.ResultAborted:
		return fmt.Sprintf("ticketbot: purchase for %s aborted: %s", subject, r.Detail)
	default:
		return fmt.Sprintf("ticketbot: purchase for %s stopped: %s", subject, r.Detail)
	}
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) notify.Sender {
	if !cfg.NotifyEnabled() {
		return notify.Nop{}
	}
	n, err := notify.New(ctx, cfg.Nostr.SecretHex, cfg.Nostr.NotifyNpub,
		notify.NewRelayPublisher(cfg.Nostr.Relays, logger.Named("relay")), logger)
	if err != nil {
		logger.Warn("operator notifications disabled", zap.Error(err))
		return notify.Nop{}
	}
	return n
}
