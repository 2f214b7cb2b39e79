// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/zapfy/broadcast-backend/internal/config"
	"github.com/zapfy/broadcast-backend/internal/db"
	"github.com/zapfy/broadcast-backend/internal/notifier"
	"github.com/zapfy/broadcast-backend/internal/queue"
	"github.com/zapfy/broadcast-backend/internal/ratelimit"
	"github.com/zapfy/broadcast-backend/internal/repository"
	"github.com/zapfy/broadcast-backend/internal/whatsapp"
	"github.com/zapfy/broadcast-backend/internal/worker"
)

const statusEventQueue = "wa_status_events"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	limiter, err := ratelimit.NewRedisLimiterFromURL(cfg.RedisURL, cfg.Dispatch.RateLimitMax, cfg.Dispatch.RateLimitWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer limiter.Close()

	amqpConn, err := amqp.Dial(cfg.AmqpURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer amqpConn.Close()

	orgNotifier, err := notifier.NewAMQPNotifier(amqpConn, "org_events")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up notifier")
	}
	defer orgNotifier.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := &worker.Pool{
		Queue:     queue.NewPostgresQueue(conn),
		Limiter:   limiter,
		Sender:    whatsapp.NewClient(cfg.GraphAPIURL),
		Campaigns: campaignRepo,
		Messages:  messageRepo,
		Instances: &repository.InstanceRepository{DB: conn},
		Notifier:  orgNotifier,
		Config:    cfg.Dispatch,
	}
	if err := pool.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatch pool")
	}

	recovery := queue.NewRecovery(conn, 0, cfg.Dispatch.StaleClaimAge)
	go recovery.Run(ctx)

	correlator := &worker.Correlator{
		Messages:  messageRepo,
		Campaigns: campaignRepo,
		Notifier:  orgNotifier,
	}
	go consumeStatusEvents(ctx, amqpConn, correlator)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down worker")
	cancel()
	pool.Stop()
}

// consumeStatusEvents feeds normalized provider status callbacks to the
// correlator. Processing errors nack with requeue so a transient DB
// outage doesn't drop acknowledgements; malformed payloads are acked
// away since they can never succeed.
func consumeStatusEvents(ctx context.Context, conn *amqp.Connection, correlator *worker.Correlator) {
	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open status channel")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		statusEventQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to declare status queue")
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register status consumer")
	}

	log.Info().Str("queue", q.Name).Msg("status correlator listening")

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Error().Msg("status channel closed")
				return
			}
			var ev worker.StatusEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn().Err(err).Msg("malformed status event")
				_ = d.Ack(false)
				continue
			}
			if err := correlator.Apply(ev); err != nil {
				log.Error().Err(err).Str("wamid", ev.ProviderMessageID).Msg("status correlation failed")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
