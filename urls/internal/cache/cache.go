package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codePrefix = "url:code:"
	rolePrefix = "url:role:"
)

// Entry - то, что нужно для редиректа без похода в БД.
type Entry struct {
	OriginalURL string    `json:"originalUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Cache хранит в Redis код -> адрес и роли пользователей, пришедшие из
// user.role_updated.
type Cache struct {
	client  *redis.Client
	codeTTL time.Duration
	roleTTL time.Duration
}

// roleTTL должен быть не меньше срока жизни JWT: после него роль придет в новом токене.
func New(client *redis.Client, codeTTL, roleTTL time.Duration) *Cache {
	return &Cache{
		client:  client,
		codeTTL: codeTTL,
		roleTTL: roleTTL,
	}
}

func (c *Cache) Get(ctx context.Context, code string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, codePrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Set кладет ссылку в кеш не дольше, чем до ее истечения.
func (c *Cache) Set(ctx context.Context, code string, entry Entry) error {
	ttl := c.codeTTL
	if left := time.Until(entry.ExpiresAt); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, codePrefix+code, raw, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = codePrefix + code
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) SetRole(ctx context.Context, userID, role string) error {
	return c.client.Set(ctx, rolePrefix+userID, role, c.roleTTL).Err()
}

func (c *Cache) Role(ctx context.Context, userID string) (string, bool, error) {
	role, err := c.client.Get(ctx, rolePrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

func (c *Cache) DeleteRole(ctx context.Context, userID string) error {
	return c.client.Del(ctx, rolePrefix+userID).Err()
}
