package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskbot/internal/bot"
	"taskbot/internal/cache"
	"taskbot/internal/config"
	"taskbot/internal/db"
	"taskbot/internal/logger"
	"taskbot/internal/metrics"
	"taskbot/internal/reminder"
	"taskbot/internal/service"
	"taskbot/internal/wizard"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const sweepInterval = time.Minute

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "taskbot",
		Short:         "Discord bot for tasks, reminders and points",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	root := logger.New(cfg.Log.Level, cfg.Log.Format)
	log := logger.Component(root, "main")
	log.WithField("version", Version).Info("Starting TaskBot application...")

	store, err := db.Open(ctx, cfg.Database.URL, logger.Component(root, "db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("error closing database")
		}
	}()

	var opts []service.Option
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		taskCache := cache.NewTaskCache(rdb, cfg.Redis.TTL)
		defer taskCache.Close()
		opts = append(opts, service.WithCache(taskCache))
		log.WithField("addr", cfg.Redis.Addr).Info("task list cache enabled")
	}

	session, err := bot.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}

	scheduler := reminder.NewScheduler(bot.NewNotifier(session), logger.Component(root, "reminder"),
		reminder.WithDeliveryTimeout(cfg.Reminders.DeliveryTimeout))
	defer scheduler.Stop()

	tasks := service.New(store, scheduler, logger.Component(root, "service"), opts...)
	drafts := wizard.NewManager(tasks, cfg.Wizard.IdleTimeout)
	discordBot := bot.New(session, tasks, drafts, cfg.Discord.ClientID, logger.Component(root, "bot"))

	metrics.RegisterGauges(drafts.Len, scheduler.Pending)

	if cfg.Reminders.ReplayOnStart {
		// Reminders are sent through the session, so replay once it is open.
		discordBot.OnConnected(func(ctx context.Context) {
			n, err := tasks.ReplayReminders(ctx)
			if err != nil {
				log.WithError(err).Error("failed to replay reminders")
				return
			}
			log.WithField("count", n).Info("reminders replayed")
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discordBot.Start(gctx)
	})
	g.Go(func() error {
		drafts.Run(gctx, sweepInterval)
		return nil
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, logger.Component(root, "metrics"))
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("stopped with error")
		return err
	}
	log.WithFields(logrus.Fields{
		"drafts_dropped":    drafts.Len(),
		"reminders_dropped": scheduler.Pending(),
	}).Info("Application shutdown complete")
	return nil
}
