package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/app"
	"estatesettle/internal/relay"
	"estatesettle/pkg/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("> invalid configuration: %v", err)
	}
	config.SetupLogging(settings, "scheduler")
	logrus.Info("> initializing scheduler...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.InitDB(settings)
	a, err := app.New(settings, config.DB, config.InitRedis(settings.RedisURL))
	if err != nil {
		logrus.Fatalf("> failed to build services: %v", err)
	}
	defer a.Close()

	var pub relay.Publisher
	if settings.OutboxMode == "queue" {
		config.InitRabbitMQ(settings)
		defer config.RabbitMQ.Close()
		p, err := config.NewPublisher()
		if err != nil {
			logrus.Fatalf("> failed to create publisher: %v", err)
		}
		defer p.Close()
		pub = p
	}
	outbox := a.Relay(pub)

	// jobs skip a tick while their previous run is still going
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     func(context.Context) error
	}{
		{"due distributions", settings.DistributionCron, settings.RunTimeout, func(ctx context.Context) error {
			_, err := a.Engine.TriggerDueDistributions(ctx)
			return err
		}},
		{"reconcile", settings.ReconcileCron, settings.RunTimeout, func(ctx context.Context) error {
			report, err := a.Engine.Reconcile(ctx)
			if err == nil && (report.StaleLocksCleared > 0 || report.EventsRequeued > 0 || len(report.Repaired) > 0 ||
				len(report.Stuck) > 0 || len(report.Failed) > 0) {
				logrus.Infof("> reconcile: locks=%d requeued=%d repaired=%d stuck=%d failed=%d payouts=%d",
					report.StaleLocksCleared, report.EventsRequeued, len(report.Repaired), len(report.Stuck),
					len(report.Failed), report.PayoutsRequeued)
			}
			return err
		}},
		{"proposal resolution", settings.ProposalCron, settings.RunTimeout, func(ctx context.Context) error {
			n, err := a.Governance.ResolveDue(ctx)
			if n > 0 {
				logrus.Infof("> resolved %d proposals", n)
			}
			return err
		}},
		// a drain may settle a payout batch, which outlasts the other jobs
		{"outbox relay", settings.OutboxCron, settings.RunTimeout + a.PayoutTimeout(), func(ctx context.Context) error {
			report, err := outbox.Drain(ctx)
			if report.Claimed > 0 {
				logrus.Infof("> outbox: claimed=%d sent=%d requeued=%d retried=%d dead=%d",
					report.Claimed, report.Sent, report.Requeued, report.Retried, report.Dead)
			}
			return err
		}},
	}
	for _, j := range jobs {
		_, err := c.AddFunc(j.spec, func() {
			runCtx, cancel := context.WithTimeout(ctx, j.timeout)
			defer cancel()
			if err := j.run(runCtx); err != nil {
				logrus.Errorf("> %s failed: %v", j.name, err)
			}
		})
		if err != nil {
			logrus.Fatalf("> failed to add %s job (%q): %v", j.name, j.spec, err)
		}
		logrus.Infof("> scheduled %s: %s", j.name, j.spec)
	}

	c.Start()
	<-ctx.Done()
	logrus.Info("> stopping scheduler, waiting for running jobs")
	select {
	case <-c.Stop().Done():
	case <-time.After(settings.RunTimeout):
	}
}
