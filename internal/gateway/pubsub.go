package gateway

import (
	"context"
	"log"
	"strings"

	goredis "github.com/go-redis/redis/v8"
)

// Relay patterns for results published by other engine instances.
var relayPatterns = []string{"pub:ind:*", "pub:candle:*"}

// RunRedisRelay subscribes to the Redis result channels and rebroadcasts
// every message to local clients. Blocks until ctx is cancelled.
func (h *Hub) RunRedisRelay(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.PSubscribe(ctx, relayPatterns...)
	defer pubsub.Close()

	log.Printf("[gateway] relaying Redis patterns %v", relayPatterns)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(strings.TrimPrefix(msg.Channel, "pub:"), []byte(msg.Payload))
		}
	}
}
