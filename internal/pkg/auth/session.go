package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionData 会话中保存的用户信息
type SessionData struct {
	UserID  uint   `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// SessionService 基于Redis的会话存储
type SessionService struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionService 连接Redis并创建会话服务
func NewSessionService(host string, port int, password string, db int, ttl time.Duration) (*SessionService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewSessionServiceWithClient(client, ttl), nil
}

// NewSessionServiceWithClient 使用已有客户端创建会话服务
func NewSessionServiceWithClient(client *redis.Client, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return "session:" + id
}

// Create 创建新会话并返回会话ID
func (s *SessionService) Create(ctx context.Context, data SessionData) (string, error) {
	id := uuid.New().String()
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, sessionKey(id), jsonData, s.ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Get 获取会话，不存在时返回nil
func (s *SessionService) Get(ctx context.Context, sessionID string) (*SessionData, error) {
	val, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data SessionData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Delete 删除会话
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Extend 延长会话有效期
func (s *SessionService) Extend(ctx context.Context, sessionID string) error {
	return s.client.Expire(ctx, sessionKey(sessionID), s.ttl).Err()
}

// Close 关闭Redis连接
func (s *SessionService) Close() error {
	return s.client.Close()
}
