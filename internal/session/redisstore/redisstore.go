// Package redisstore keeps feedback sessions in Redis. Session expiry is
// left to Redis key expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/examforge/internal/model"
)

const defaultPrefix = "examforge:feedback"

// Store is a session.Store backed by Redis. Each session is a JSON string
// plus a list of JSON-encoded turns.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client, prefix: defaultPrefix}
}

// Open connects to the Redis server at addr and checks it is reachable.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(rdb), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) metaKey(id string) string  { return fmt.Sprintf("%s:%s:meta", s.prefix, id) }
func (s *Store) turnsKey(id string) string { return fmt.Sprintf("%s:%s:turns", s.prefix, id) }

func (s *Store) CreateSession(ctx context.Context, sess *model.FeedbackSession) error {
	meta := *sess
	meta.Turns = nil
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.metaKey(sess.ID), data, 0)
		pipe.Del(ctx, s.turnsKey(sess.ID))
		if len(sess.Turns) > 0 {
			if err := s.pushTurns(ctx, pipe, sess.ID, sess.Turns); err != nil {
				return err
			}
		}
		if !sess.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, s.metaKey(sess.ID), sess.ExpiresAt)
			pipe.ExpireAt(ctx, s.turnsKey(sess.ID), sess.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.FeedbackSession, error) {
	sess, err := s.getMeta(ctx, id)
	if err != nil || sess == nil {
		return sess, err
	}

	raw, err := s.client.LRange(ctx, s.turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", id, err)
	}
	sess.Turns = make([]model.ChatTurn, 0, len(raw))
	for _, r := range raw {
		var turn model.ChatTurn
		if err := json.Unmarshal([]byte(r), &turn); err != nil {
			return nil, fmt.Errorf("decode turn of %s: %w", id, err)
		}
		sess.Turns = append(sess.Turns, turn)
	}
	return sess, nil
}

func (s *Store) AppendTurns(ctx context.Context, id string, turns ...model.ChatTurn) error {
	sess, err := s.getMeta(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return &model.UnknownSessionError{ID: id}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.pushTurns(ctx, pipe, id, turns); err != nil {
			return err
		}
		if !sess.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, s.turnsKey(id), sess.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turns to %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.metaKey(id), s.turnsKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) getMeta(ctx context.Context, id string) (*model.FeedbackSession, error) {
	val, err := s.client.Get(ctx, s.metaKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess model.FeedbackSession
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) pushTurns(ctx context.Context, pipe redis.Pipeliner, id string, turns []model.ChatTurn) error {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, data)
	}
	pipe.RPush(ctx, s.turnsKey(id), values...)
	return nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TTL returns the remaining lifetime Redis holds for a session.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, error) {
	return s.client.TTL(ctx, s.metaKey(id)).Result()
}
