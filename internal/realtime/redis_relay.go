package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// DefaultRedisChannel канал Redis, через который инстансы обмениваются изменениями
const DefaultRedisChannel = "marketplace:changes"

type envelope struct {
	Origin string        `json:"origin"`
	Change models.Change `json:"change"`
}

// RedisRelay пересылает локально опубликованные изменения в Redis и
// доставляет локальным подписчикам изменения других инстансов
type RedisRelay struct {
	rdb        *redis.Client
	broker     *Broker
	channel    string
	instanceID string
}

// NewRedisRelay подключается к Redis по URL вида redis://host:port/db
func NewRedisRelay(redisURL string, broker *Broker) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе REDIS_URL: %w", err)
	}
	return &RedisRelay{
		rdb:        redis.NewClient(opts),
		broker:     broker,
		channel:    DefaultRedisChannel,
		instanceID: uuid.NewString(),
	}, nil
}

// Start подписывается на канал и начинает ретрансляцию до отмены ctx
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("ошибка подписки на канал Redis %s: %w", r.channel, err)
	}

	r.broker.OnPublish(r.publish)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handle(msg.Payload)
			}
		}
	}()

	log.Printf("✅ Ретрансляция изменений через Redis (%s)", r.channel)
	return nil
}

func (r *RedisRelay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Printf("Ошибка разбора изменения из Redis: %v", err)
		return
	}
	// Свои изменения уже доставлены локально
	if env.Origin == r.instanceID {
		return
	}
	r.broker.Deliver(env.Change)
}

func (r *RedisRelay) publish(change models.Change) {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, Change: change})
	if err != nil {
		log.Printf("Ошибка сериализации изменения: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Printf("Ошибка публикации изменения в Redis: %v", err)
	}
}

// Close закрывает соединение с Redis
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
