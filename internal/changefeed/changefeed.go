// Package changefeed broadcasts committed document paths over Redis pub/sub
// so live queries in every server process re-run after a remote write.
package changefeed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "buildtrack:changes"

type Notifier interface {
	Notify(path string)
}

type Feed struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func New(rdb *redis.Client, channel string, logger *slog.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{rdb: rdb, channel: channel, logger: logger}
}

func (f *Feed) Publish(ctx context.Context, path string) error {
	if err := f.rdb.Publish(ctx, f.channel, path).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Run forwards every published path to n until ctx is done. The
// subscription is confirmed before Run starts forwarding, so a change
// published after ready is closed is never missed.
func (f *Feed) Run(ctx context.Context, n Notifier, ready chan<- struct{}) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	f.logger.Info("change feed subscribed", "channel", f.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("change feed %s closed", f.channel)
			}
			n.Notify(msg.Payload)
		}
	}
}
