package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ticket-reservation-bot/queues"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	// Start in-memory Pub/Sub server
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial error: %#v", err)
	}
	t.Cleanup(func() { conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client error: %#v", err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

type args struct {
	n *queues.SessionNotice
}

type test struct {
	name    string
	setup   func() *Publisher
	args    args
	wantErr bool
}

func TestPublisher_PublishNotice(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	ctx := context.Background()
	srv, client := newTestClient(t)

	tests := []test{
		{
			name: "success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "test-topic")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				// Build publisher with injected client/topic
				return &Publisher{projectID: "test-project", noticeTopic: "test-topic", client: client, topic: topic}
			},
			args: args{n: &queues.SessionNotice{
				EnvelopeVersion: queues.EnvelopeVersion,
				Type:            queues.NoticeReservation,
				SessionID:       "s1",
				EventID:         "evt",
				Status:          queues.StatusReserved,
				VariantName:     strPtr("VIP"),
				At:              time.Unix(1700000000, 0).UTC(),
			}},
			wantErr: false,
		},
		{
			name: "missing topic error",
			setup: func() *Publisher {
				// Get handle to non-existent topic
				topic := client.Topic("missing-topic")
				return &Publisher{projectID: "test-project", noticeTopic: "missing-topic", client: client, topic: topic}
			},
			args:    args{n: &queues.SessionNotice{EnvelopeVersion: queues.EnvelopeVersion, Type: queues.NoticeSessionSummary, SessionID: "s2", Status: queues.StatusStopped}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			err := p.PublishNotice(ctx, tt.args.n)
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("PublishNotice() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("published messages got=%d want=1", len(msgs))
	}
	if got := msgs[0].Attributes["type"]; got != string(queues.NoticeReservation) {
		t.Errorf("type attribute got=%#v", got)
	}
	var decoded queues.SessionNotice
	if err := json.Unmarshal(msgs[0].Data, &decoded); err != nil {
		t.Fatalf("unmarshal: %#v", err)
	}
	if decoded.SessionID != "s1" || decoded.VariantName == nil || *decoded.VariantName != "VIP" {
		t.Errorf("decoded notice mismatch: %#v", decoded)
	}
}

func strPtr(s string) *string { return &s }
