package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/globalecho/internal/config"
	"github.com/loqalabs/globalecho/internal/natsserver"
	"github.com/loqalabs/globalecho/internal/protocol"
	"github.com/nats-io/nats.go"
)

func TestPublishJSONOverEmbeddedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	busCfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000}
	es, err := natsserver.Start(busCfg, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(es.Shutdown)

	busCfg.Servers = []string{es.ClientURL()}
	client, err := Connect(context.Background(), busCfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}

	received := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranslateCompleted, received)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	evt := protocol.TranslationEvent{SessionID: "s1", Text: "你好", Translation: "hello"}
	if err := client.PublishJSON(protocol.SubjectTranslateCompleted, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		var got protocol.TranslationEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.SessionID != "s1" || got.Translation != "hello" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Connect(context.Background(), config.BusConfig{}, logger); err == nil {
		t.Fatal("expected error without servers")
	}
}
