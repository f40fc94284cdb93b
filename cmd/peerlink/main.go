package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/notify"
	"peerlink/internal/infrastructure/repositories"
	"peerlink/pkg/distributed"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configPath  string
	peerIDFlag  string
	displayName string
)

var rootCmd = &cobra.Command{
	Use:          "peerlink",
	Short:        "Peer-to-peer chat and video calls",
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive client",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Chat(ctx, os.Stdin, peerIDFlag, displayName)
	},
}

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Show notifications published by running clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		defer log.Sync()

		factory, err := repositories.NewStoreFactory(cfg, log)
		if err != nil {
			return fmt.Errorf("opening stores: %w", err)
		}
		defer factory.Close()
		if factory.RedisClient() == nil {
			return errors.New("notifier needs redis: set redis.address and notifications.bus")
		}

		lock := distributed.NewLock(factory.RedisClient(), cfg.Notifications.BusChannel+":notifier", 30*time.Second)
		held, err := lock.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("locking notifier: %w", err)
		}
		if !held {
			return errors.New("another notifier is already running")
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				log.Debugw("Releasing notifier lock failed", "error", err)
			}
		}()

		bus := notify.NewBus(factory.RedisClient(), cfg.Notifications.BusChannel, "notifier", log.Named("bus"))
		platform := notify.NewTerminalPlatform(os.Stdout, true)
		fmt.Printf("Listening for notifications on %s\n", cfg.Notifications.BusChannel)

		err = bus.Subscribe(ctx, func(m *notify.Message) error {
			fmt.Println(notify.FormatMessage(m))
			return platform.Show(m.Notification())
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var clearDataCmd = &cobra.Command{
	Use:   "clear-data",
	Short: "Forget the saved identity and last peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		defer log.Sync()

		factory, err := repositories.NewStoreFactory(cfg, log)
		if err != nil {
			return fmt.Errorf("opening stores: %w", err)
		}
		defer factory.Close()

		persistence := services.NewPersistence(factory.CreateKeyValueStore(), log.Named("persistence"))
		if err := persistence.ClearAll(ctx); err != nil {
			return fmt.Errorf("clearing data: %w", err)
		}
		fmt.Println("All data cleared.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/config.yaml)")
	chatCmd.Flags().StringVar(&peerIDFlag, "peer-id", "", "peer id to claim on first run")
	chatCmd.Flags().StringVar(&displayName, "name", "", "display name on first run")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(notifierCmd)
	rootCmd.AddCommand(clearDataCmd)
}
