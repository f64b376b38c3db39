package mqtt

import (
	"errors"
	"testing"

	"github.com/joshp123/zinguo/internal/config"
)

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{
		Host:     "broker.local",
		Port:     8883,
		TLS:      true,
		ClientID: "zinguod",
		Username: "user",
		Password: "pass",
	})

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Fatalf("unexpected servers: %v", opts.Servers)
	}
	if opts.ClientID != "zinguod" || opts.Username != "user" {
		t.Fatalf("unexpected identity: %s %s", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls config")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Fatalf("expected auto reconnect and clean session")
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]MessageHandler)}
	if err := c.Publish("", nil, false); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
	if err := c.Publish("zinguo/x/state", []byte("{}"), true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Subscribe("zinguo/x/+/set", func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("offline subscribe should be deferred, got %v", err)
	}
	if _, ok := c.subscriptions["zinguo/x/+/set"]; !ok {
		t.Fatalf("expected subscription tracked for reconnect")
	}
}
