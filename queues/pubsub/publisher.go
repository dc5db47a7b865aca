package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"ticket-reservation-bot/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Publisher struct {
	projectID   string
	noticeTopic string
	credsFile   string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, noticeTopic, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, noticeTopic: noticeTopic, credsFile: credsFile}
}

// topicHandle lazily creates the client. The engine publishes from several
// goroutines, so the handle is guarded.
func (p *Publisher) topicHandle(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}

	var (
		client *gpubsub.Client
		err    error
	)
	if p.credsFile != "" {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.noticeTopic).Str("credsFile", p.credsFile).Msg("initializing pubsub publisher with explicit credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID, option.WithCredentialsFile(p.credsFile))
	} else {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.noticeTopic).Msg("initializing pubsub publisher with default credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID)
	}
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.noticeTopic).Msg("failed to create pubsub client for publisher")
		return nil, err
	}
	p.client = client
	p.topic = client.Topic(p.noticeTopic)
	log.Info().Str("topic", p.noticeTopic).Msg("pubsub publisher initialized")
	return p.topic, nil
}

func (p *Publisher) PublishNotice(ctx context.Context, n *queues.SessionNotice) error {
	topic, err := p.topicHandle(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("sessionId", n.SessionID).Msg("failed to marshal session notice")
		return err
	}
	// Publish and wait for server ack
	r := topic.Publish(ctx, &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"type": string(n.Type), "sessionId": n.SessionID},
	})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("sessionId", n.SessionID).Str("type", string(n.Type)).Msg("failed to publish session notice")
		return err
	}
	log.Debug().Str("messageID", id).Str("sessionId", n.SessionID).Str("status", string(n.Status)).Msg("published session notice")
	return nil
}

// Close stops the topic's publish goroutines and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client, p.topic = nil, nil
	return err
}
