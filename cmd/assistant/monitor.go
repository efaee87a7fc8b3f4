package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailassist/internal/agent"
	"mailassist/internal/api"
	"mailassist/internal/httpserver"
	"mailassist/internal/mqhandler"
	"mailassist/internal/render"
	"mailassist/internal/scheduler"
	"mailassist/pkg/mq"
	"mailassist/pkg/outbox"
)

const emailReceivedQueue = "email.received.assistant.q"

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Process pending emails now and then on every interval",
		Long: `Runs a pass immediately and then once per interval until SIGINT or SIGTERM.
A failed pass never stops the next one. Interruption takes effect between
passes: a pass that has started runs to completion.

When mq.url is configured the monitor also wakes up early on email.received
events and publishes email.analyzed events from the outbox. A health and
metrics server listens on server.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Monitor.Interval
			}
			return a.runMonitor(ctx, cmd, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", scheduler.DefaultInterval, "time between passes")
	return cmd
}

func (a *app) runMonitor(ctx context.Context, cmd *cobra.Command, interval time.Duration) error {
	printer := render.New(cmd.OutOrStdout())
	mon := scheduler.NewMonitor(a.agent, interval, a.logger,
		scheduler.WithCycleHook(func(r *agent.Report, _ error) {
			if r != nil {
				printer.Report(r, true)
			}
		}),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })

	deps := httpserver.Deps{
		Queries: api.NewEmailQueryHandler(a.agent, a.logger),
	}
	if a.pool != nil {
		deps.DB = a.pool
	}

	if a.cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(a.cfg.MQ.URL)
		if err != nil {
			a.logger.Warn("MQ publisher unavailable, outbox events stay pending", zap.Error(err))
		} else {
			defer publisher.Close()
			deps.Publisher = publisher
			if a.outboxRepo != nil {
				dispatcher := outbox.NewDispatcher(a.outboxRepo, publisher, a.logger)
				g.Go(func() error {
					dispatcher.Start(ctx)
					return nil
				})
			}
		}

		consumer, err := mq.NewConsumer(a.cfg.MQ.URL, emailReceivedQueue, mq.RoutingKeyEmailReceived, a.logger)
		if err != nil {
			a.logger.Warn("MQ consumer unavailable, relying on the interval only", zap.Error(err))
		} else {
			defer consumer.Close()
			consumer.SetHandler(mqhandler.NewEmailReceivedHandler(mon, a.logger).HandleEmailReceived)
			g.Go(func() error {
				// 消费中断只影响提前唤醒，monitor 继续按间隔运行
				if err := consumer.StartConsuming(ctx); err != nil {
					a.logger.Error("email.received consumer stopped", zap.Error(err))
				}
				return nil
			})
		}
	}

	router := httpserver.NewRouter(deps)
	g.Go(func() error {
		// 端口不可用只影响健康检查和查询接口，monitor 继续运行直到被中断
		if err := router.Serve(ctx, a.cfg.ListenAddr(), a.logger); err != nil {
			a.logger.Error("HTTP server stopped", zap.String("addr", a.cfg.ListenAddr()), zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("Monitor stopped")
	return err
}
