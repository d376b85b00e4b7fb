package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sfucore/internal/infrastructure/distributed"
	redisrepo "sfucore/internal/infrastructure/repositories/redis"
	"sfucore/pkg/config"
	"sfucore/pkg/logger"
	"sfucore/pkg/utils"
)

var (
	flagConfig string
	flagRoom   string
)

var rootCmd = &cobra.Command{
	Use:   "roomevents",
	Short: "Follow the room events published by sfucore instances",
	Long: `Subscribe to the Redis room event stream and log every event.

Examples:
  roomevents
  roomevents --room 42
  roomevents --config /etc/sfucore/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return follow(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "sfucore config file with the redis section")
	rootCmd.Flags().StringVar(&flagRoom, "room", "", "only show events of this room")
}

func follow(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	client, err := redisrepo.Connect(redisrepo.OptionsFromConfig(cfg, false), log)
	if err != nil {
		return err
	}
	defer client.Close()

	bus := distributed.NewEventBus(client, "roomevents-"+utils.NewInstanceID(), 1, 0, log)
	defer bus.Close()

	log.Infow("following room events", "channel", distributed.EventsChannel, "room_id", flagRoom)
	err = bus.Subscribe(ctx, false, func(env distributed.Envelope) error {
		ev := env.Event
		if flagRoom != "" && ev.RoomID != flagRoom {
			return nil
		}
		log.Infow("room event",
			"event", ev.Type,
			"room_id", ev.RoomID,
			"user_id", ev.UserID,
			"class", ev.Class,
			"media_type", ev.MediaType,
			"kind", ev.Kind,
			"volume", ev.Volume,
			"reason", ev.Reason,
			"source", env.InstanceID,
			"published_at", env.PublishedAt,
		)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
