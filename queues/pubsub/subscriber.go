package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"ticket-reservation-bot/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

// Start receives control commands until ctx is cancelled. Undecodable
// messages are nacked, invalid ones are acked and dropped.
func (s *Subscriber) Start(ctx context.Context, handler func(context.Context, *queues.ControlCommand) error) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	}

	// Commands change engine state; apply them one at a time.
	s.sub.ReceiveSettings.NumGoroutines = 1
	s.sub.ReceiveSettings.MaxOutstandingMessages = 1

	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received pubsub message")
		recvAt := time.Now()
		var cmd queues.ControlCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal control command")
			m.Nack()
			return
		}
		if !cmd.Valid() {
			log.Error().Str("action", string(cmd.Action)).Msg("invalid control command payload")
			// poison
			m.Ack()
			return
		}

		log.Info().Str("action", string(cmd.Action)).Msg("handling control command")
		if err := handler(ctx, &cmd); err != nil {
			log.Error().Err(err).Str("action", string(cmd.Action)).Msg("control command rejected")
			// Rejections are not retried.
			m.Ack()
			return
		}
		log.Debug().Str("action", string(cmd.Action)).Dur("latency", time.Since(recvAt)).Msg("control command applied; acking message")
		m.Ack()
	})
}
