package output

import (
	"context"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

type redisSink struct {
	client *redis.Client
	server *state.Server
	logger *util.Logger
}

func newRedisSink(server *state.Server, logger *util.Logger) (*redisSink, error) {
	opts, err := redis.ParseURL(server.Config.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis_url")
	}
	return &redisSink{client: redis.NewClient(opts), server: server, logger: logger}, nil
}

// activityStreamArgs - One stream entry per event, trimmed approximately to the configured length
func activityStreamArgs(config redisStreamConfig, payload []byte, collectedAt time.Time) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: config.Stream,
		Values: map[string]interface{}{
			"system_id":    config.SystemID,
			"collected_at": collectedAt.UTC().Format(time.RFC3339Nano),
			"payload":      string(payload),
		},
	}
	if config.MaxLen > 0 {
		args.MaxLen = config.MaxLen
		args.Approx = true
	}
	return args
}

type redisStreamConfig struct {
	Stream   string
	MaxLen   int64
	SystemID string
}

func (s *redisSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	config := redisStreamConfig{
		Stream:   s.server.Config.RedisStream,
		MaxLen:   s.server.Config.RedisStreamMaxLen,
		SystemID: s.server.Config.SystemID,
	}
	id, err := s.client.XAdd(ctx, activityStreamArgs(config, payload, collectedAt)).Result()
	if err != nil {
		return errors.Wrap(err, "could not add activity event to redis stream")
	}
	s.logger.PrintVerbose("Added activity event %s to redis stream %s", id, config.Stream)
	return nil
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
