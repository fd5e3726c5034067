// Package natsbus connects the engine to NATS: lifecycle events are published
// to <prefix>.events.<event>, triggers arrive on <prefix>.trigger.<workflowId>
// and messages for waiting activities on <prefix>.message.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client manages the connection to NATS and JetStream.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials url (nats.DefaultURL when empty) with reconnect handling
// reported through logger.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(
		url,
		nats.Name("weir"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect to %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: jetstream: %w", err)
	}
	return &Client{nc: nc, js: js}, nil
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) JetStream() jetstream.JetStream { return c.js }

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return err
	}
	return nil
}

// EnsureStream makes sure a stream capturing the trigger and message
// subjects of prefix exists, creating or updating it.
func (c *Client) EnsureStream(ctx context.Context, name, prefix string) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{TriggerSubject(prefix, "*"), MessageSubject(prefix)},
		Storage:  jetstream.FileStorage,
	}
	stream, err := c.js.Stream(ctx, name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = c.js.CreateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("natsbus: create stream %s: %w", name, err)
		}
		return stream, nil
	}
	if err != nil {
		return nil, fmt.Errorf("natsbus: stream %s: %w", name, err)
	}
	stream, err = c.js.UpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("natsbus: update stream %s: %w", name, err)
	}
	return stream, nil
}

func EventSubject(prefix, event string) string { return prefix + ".events." + event }

func TriggerSubject(prefix, workflowID string) string { return prefix + ".trigger." + workflowID }

func MessageSubject(prefix string) string { return prefix + ".message" }
