package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"cryptotrader/internal/model"
)

// CandlePattern matches every candle channel published by PublishCandle.
const CandlePattern = "pub:candle:*"

// CandleChannel returns "pub:" + the candle's stream key.
func CandleChannel(c *model.Candle) string { return "pub:" + c.StreamKey() }

// PublishCandle publishes a closed or forming candle for SubscribeCandles.
func PublishCandle(ctx context.Context, client goredis.Cmdable, c model.Candle) error {
	if err := client.Publish(ctx, CandleChannel(&c), c.JSON()).Err(); err != nil {
		return fmt.Errorf("redis publish candle %s: %w", c.Key(), err)
	}
	return nil
}

// SubscribeCandles subscribes to pub:candle:* and feeds decoded candles into
// out. Closed candles block until delivered; forming candles are dropped if
// out is full. Blocks until ctx is cancelled.
func SubscribeCandles(ctx context.Context, client *goredis.Client, out chan<- model.Candle) error {
	pubsub := client.PSubscribe(ctx, CandlePattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, err := decodeCandle(msg.Payload)
			if err != nil {
				log.Printf("[redis] bad candle on %s: %v", msg.Channel, err)
				continue
			}
			if c.Forming {
				select {
				case out <- c:
				default:
				}
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeCandle(payload string) (model.Candle, error) {
	var c model.Candle
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return model.Candle{}, err
	}
	if c.Symbol == "" || c.TF <= 0 {
		return model.Candle{}, fmt.Errorf("candle missing symbol or tf")
	}
	return c, nil
}
