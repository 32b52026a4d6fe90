package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attest/internal/verification/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// Redis stores verification records as TTL-keyed JSON documents. Records are
// naturally short-lived, so letting Redis expire the keys doubles as the
// housekeeping sweep the core otherwise never performs. The consuming
// transition runs as a Lua script so the status check and the rewrite are one
// atomic step on the server.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func recordKey(recordID id.RecordID) string {
	return "verification:record:" + recordID.String()
}

// redisRecord is the stored shape; kept separate from models.Record so the
// wire layout can evolve without touching the domain type.
type redisRecord struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Type         string             `json:"type"`
	Identifier   *models.Identifier `json:"identifier,omitempty"`
	Status       string             `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

func toRedisRecord(r *models.Record) redisRecord {
	return redisRecord{
		ID:           r.ID.String(),
		UserID:       r.UserID.String(),
		Type:         string(r.Type),
		Identifier:   r.Identifier,
		Status:       string(r.Status),
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

func (rr redisRecord) toModel() (*models.Record, error) {
	recordID, err := id.ParseRecordID(rr.ID)
	if err != nil {
		return nil, fmt.Errorf("stored record id: %w", err)
	}
	userID, err := id.ParseUserID(rr.UserID)
	if err != nil {
		return nil, fmt.Errorf("stored user id: %w", err)
	}
	return &models.Record{
		ID:           recordID,
		UserID:       userID,
		Type:         models.Type(rr.Type),
		Identifier:   rr.Identifier,
		Status:       models.Status(rr.Status),
		AttemptCount: rr.AttemptCount,
		CreatedAt:    rr.CreatedAt,
		ExpiresAt:    rr.ExpiresAt,
	}, nil
}

// casScript swaps status only when the stored status matches ARGV[1].
// Returns: 1 swapped, 0 missing, -1 already at target, -2 wrong state.
var casScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local record = cjson.decode(raw)
if record["status"] == ARGV[2] then
	return -1
end
if record["status"] ~= ARGV[1] then
	return -2
end
record["status"] = ARGV[2]
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("SET", KEYS[1], cjson.encode(record), "PX", ttl)
else
	redis.call("SET", KEYS[1], cjson.encode(record))
end
return 1
`)

// attemptScript bumps attempt_count in place, preserving the key TTL.
var attemptScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return -1
end
local record = cjson.decode(raw)
record["attempt_count"] = record["attempt_count"] + 1
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("SET", KEYS[1], cjson.encode(record), "PX", ttl)
else
	redis.call("SET", KEYS[1], cjson.encode(record))
end
return record["attempt_count"]
`)

func (s *Redis) Create(ctx context.Context, record *models.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(toRedisRecord(record))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// Keep the key around past logical expiry so late readers get a clean
	// Expired outcome instead of NotFound.
	ttl := time.Until(record.ExpiresAt) + time.Hour
	ok, err := s.client.SetNX(ctx, recordKey(record.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	raw, err := s.client.Get(ctx, recordKey(recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rr.toModel()
}

func (s *Redis) CompareAndSwapStatus(ctx context.Context, recordID id.RecordID, from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return sentinel.ErrInvalidState
	}

	res, err := casScript.Run(ctx, s.client, []string{recordKey(recordID)}, string(from), string(to)).Int()
	if err != nil {
		return fmt.Errorf("cas record status: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return sentinel.ErrNotFound
	case -1:
		return sentinel.ErrAlreadyUsed
	default:
		return sentinel.ErrInvalidState
	}
}

func (s *Redis) IncrementAttempts(ctx context.Context, recordID id.RecordID) (int, error) {
	count, err := attemptScript.Run(ctx, s.client, []string{recordKey(recordID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempt count: %w", err)
	}
	if count < 0 {
		return 0, sentinel.ErrNotFound
	}
	return count, nil
}
