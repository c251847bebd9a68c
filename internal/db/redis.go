package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nkmrt3/frnchat/internal/models"
	"github.com/nkmrt3/frnchat/internal/utils"
)

const conversationKeyPrefix = "frnchat:conversation:"

func NewRedisClient(ctx context.Context, cfg utils.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// CachedStore is a read-through Redis cache in front of another
// ConversationStore. Writes go to the backing store first and then refresh
// the cached copy; cache failures are logged and never fail a request.
//
// Each entry is a hash carrying the encoded conversation plus its message
// count and updatedAt, and refreshes only replace an entry that is not
// newer than the incoming copy. Deletes leave a tombstone for one TTL so a
// read that raced the delete cannot bring the conversation back.
type CachedStore struct {
	next   ConversationStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// KEYS[1] entry key; ARGV data, message count, updatedAt millis, ttl millis.
var storeIfNewer = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'deleted') == 1 then
	return 0
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count then
	local updated = tonumber(redis.call('HGET', KEYS[1], 'updated')) or 0
	local incoming = tonumber(ARGV[2])
	if count > incoming or (count == incoming and updated > tonumber(ARGV[3])) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'count', ARGV[2], 'updated', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// KEYS[1] entry key; ARGV[1] ttl millis.
var storeTombstone = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'deleted', '1')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

func NewCachedStore(next ConversationStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.next.ListConversations(ctx)
}

func (s *CachedStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv, err := s.next.CreateConversation(ctx, title)
	if err != nil {
		return nil, err
	}
	s.store(ctx, conv)
	return conv, nil
}

func (s *CachedStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if conv, ok := s.load(ctx, id); ok {
		return conv, nil
	}

	conv, err := s.next.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, conv)
	return conv, nil
}

func (s *CachedStore) AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error) {
	conv, err := s.next.AppendMessages(ctx, id, messages)
	if err != nil {
		s.evictOnMiss(ctx, id, err)
		return nil, err
	}
	s.store(ctx, conv)
	return conv, nil
}

func (s *CachedStore) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	conv, err := s.next.UpdateTitle(ctx, id, title)
	if err != nil {
		s.evictOnMiss(ctx, id, err)
		return nil, err
	}
	s.store(ctx, conv)
	return conv, nil
}

func (s *CachedStore) DeleteConversation(ctx context.Context, id string) error {
	err := s.next.DeleteConversation(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.evict(ctx, id)
		return err
	}

	if terr := storeTombstone.Run(ctx, s.client, []string{conversationKey(id)}, s.ttl.Milliseconds()).Err(); terr != nil {
		s.logger.Warn("conversation cache tombstone failed", zap.String("conversation_id", id), zap.Error(terr))
		s.evict(ctx, id)
	}
	return err
}

func (s *CachedStore) load(ctx context.Context, id string) (*models.Conversation, bool) {
	fields, err := s.client.HMGet(ctx, conversationKey(id), "data", "deleted").Result()
	if err != nil {
		s.logger.Warn("conversation cache read failed", zap.String("conversation_id", id), zap.Error(err))
		return nil, false
	}
	if len(fields) != 2 || fields[1] != nil {
		return nil, false
	}

	raw, ok := fields[0].(string)
	if !ok {
		return nil, false
	}

	var conv models.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		s.logger.Warn("conversation cache entry corrupt", zap.String("conversation_id", id), zap.Error(err))
		s.evict(ctx, id)
		return nil, false
	}

	conv.Normalize()
	return &conv, true
}

func (s *CachedStore) store(ctx context.Context, conv *models.Conversation) {
	raw, err := json.Marshal(conv)
	if err != nil {
		s.logger.Warn("conversation cache encode failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}

	args := []any{string(raw), len(conv.Messages), conv.UpdatedAt.UnixMilli(), s.ttl.Milliseconds()}
	if err := storeIfNewer.Run(ctx, s.client, []string{conversationKey(conv.ID)}, args...).Err(); err != nil {
		s.logger.Warn("conversation cache write failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

func (s *CachedStore) evict(ctx context.Context, id string) {
	if err := s.client.Del(ctx, conversationKey(id)).Err(); err != nil {
		s.logger.Warn("conversation cache evict failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

func (s *CachedStore) evictOnMiss(ctx context.Context, id string, err error) {
	if errors.Is(err, ErrNotFound) {
		s.evict(ctx, id)
	}
}

func conversationKey(id string) string {
	return conversationKeyPrefix + id
}
