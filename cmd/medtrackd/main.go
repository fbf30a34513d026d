// Command medtrackd runs the medication reminder daemon: it polls for due
// dose slots on a cron schedule, pushes reminders, and serves metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregdel/pushover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"medtrack/internal/config"
	"medtrack/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run() error {
	cfg := &config.Env{}

	log, err := newLogger(cfg.Environment())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	opts := []core.Option{
		core.WithLogger(log),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(registry)),
	}
	buffer, err := cfg.ReminderBuffer()
	if err != nil {
		return err
	}
	if buffer > 0 {
		opts = append(opts, core.WithReminderBuffer(buffer))
	}
	svc := core.NewService(store, opts...)

	notifier := newNotifier(cfg, log)
	poller := &duePoller{svc: svc, log: log, notifier: notifier, notified: map[string]struct{}{}}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.PollSpec(), poller.poll); err != nil {
		return fmt.Errorf("invalid poll spec %q: %w", cfg.PollSpec(), err)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.ListenAddr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("medtrackd started",
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.String("poll_spec", cfg.PollSpec()),
		zap.Duration("reminder_buffer", svc.ReminderBuffer()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}

// notifier pushes a reminder for one due slot.
type notifier interface {
	notify(slot core.DueSlot) error
}

// logNotifier is the fallback when pushover credentials are absent.
type logNotifier struct {
	log *zap.Logger
}

func (n *logNotifier) notify(slot core.DueSlot) error {
	n.log.Info("dose due",
		zap.String("medication", slot.Medication.Name),
		zap.String("dosage", slot.Medication.Dosage),
		zap.String("date", string(slot.Date)),
		zap.String("time_window", string(slot.Window)),
	)
	return nil
}

type pushoverNotifier struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

func (n *pushoverNotifier) notify(slot core.DueSlot) error {
	body := fmt.Sprintf("%s (%s) is due in the %s window", slot.Medication.Name, slot.Medication.Dosage, slot.Window)
	if slot.Medication.WithFood {
		body += ", take with food"
	}
	message := pushover.NewMessageWithTitle(body, "Medication reminder")
	_, err := n.app.SendMessage(message, n.recipient)
	return err
}

func newNotifier(cfg config.Config, log *zap.Logger) notifier {
	apiToken, err := cfg.PushoverAPIToken()
	if err != nil {
		log.Info("pushover disabled, reminders go to the log", zap.Error(err))
		return &logNotifier{log: log}
	}
	userToken, err := cfg.PushoverUserToken()
	if err != nil {
		log.Info("pushover disabled, reminders go to the log", zap.Error(err))
		return &logNotifier{log: log}
	}
	return &pushoverNotifier{
		app:       pushover.New(apiToken),
		recipient: pushover.NewRecipient(userToken),
	}
}

// duePoller checks for due slots and notifies each one once per day.
type duePoller struct {
	svc      *core.Service
	log      *zap.Logger
	notifier notifier
	notified map[string]struct{}
	today    string
}

func (p *duePoller) poll() {
	now := time.Now()
	date := now.Format("2006-01-02")
	if date != p.today {
		// New day: forget yesterday's reminders.
		p.notified = map[string]struct{}{}
		p.today = date
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	due, err := p.svc.DueSlots(ctx, now)
	if err != nil {
		p.log.Warn("due slot poll failed", zap.Error(err))
		return
	}
	for _, slot := range due {
		key := slot.Medication.ID + "|" + string(slot.Date) + "|" + string(slot.Window)
		if _, seen := p.notified[key]; seen {
			continue
		}
		if err := p.notifier.notify(slot); err != nil {
			p.log.Warn("reminder failed",
				zap.String("medication", slot.Medication.Name),
				zap.Error(err),
			)
			continue
		}
		p.notified[key] = struct{}{}
	}
}
