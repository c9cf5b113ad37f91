package main

import (
	"context"
	"time"

	"paywall/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

type setupConfig struct {
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID" required:"true"`
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST" required:"true"`
	Topic              string `envconfig:"PUBSUB_SUBSCRIPTION_TOPIC" default:"subscription-events"`
}

// Creates the subscription events topic and a pull subscription for local
// consumers on the Pub/Sub emulator. Safe to run repeatedly.
func main() {
	_ = godotenv.Load()
	log := logger.New("development", "info")

	var cfg setupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Pub/Sub client")
		}
	}()

	topic := ensureTopic(ctx, client, cfg.Topic, log)
	ensureSubscription(ctx, client, topic, cfg.Topic+"-local-sub", log)

	log.Info().Str("topic", cfg.Topic).Msg("Pub/Sub setup for local environment complete")
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string, log zerolog.Logger) *pubsub.Topic {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("topic", topicID).Msg("Failed to check topic")
	}
	if exists {
		log.Info().Str("topic", topicID).Msg("Topic already exists")
		return topic
	}
	topic, err = client.CreateTopic(ctx, topicID)
	if err != nil {
		log.Fatal().Err(err).Str("topic", topicID).Msg("Failed to create topic")
	}
	log.Info().Str("topic", topicID).Msg("Created topic")
	return topic
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, topic *pubsub.Topic, subID string, log zerolog.Logger) {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("subscription", subID).Msg("Failed to check subscription")
	}
	if exists {
		log.Info().Str("subscription", subID).Msg("Subscription already exists")
		return
	}
	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:             topic,
		AckDeadline:       30 * time.Second,
		RetentionDuration: 7 * 24 * time.Hour,
	})
	if err != nil {
		log.Fatal().Err(err).Str("subscription", subID).Msg("Failed to create subscription")
	}
	log.Info().Str("subscription", subID).Msg("Created pull subscription")
}
