package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/amoylab/roomhub/internal/common/cnst"
	"github.com/amoylab/roomhub/internal/common/config"
	"github.com/amoylab/roomhub/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxTxRetries bounds optimistic retries when the rooms hash changes under WATCH
const maxTxRetries = 16

// RedisStore implements Store using Redis. Rooms live in one hash, each
// room's messages in a list appended in send order and its members in a set
// mirrored by a per-user set of rooms. Every key shares the {prefix} hash tag
// so room writes can run in one transaction in cluster mode.
type RedisStore struct {
	logger *zap.Logger
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis in single, sentinel or cluster mode
func NewRedisStore(logger *zap.Logger, cfg config.RedisConfig) (*RedisStore, error) {
	opts := &redis.UniversalOptions{
		Addrs:    utils.SplitAddrs(cfg.Addr),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = cfg.DB
	}
	client := redis.NewUniversalClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "roomhub"
	}
	return &RedisStore{
		logger: logger.Named("chat.store.redis"),
		client: client,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) roomsKey() string {
	return "{" + s.prefix + "}:rooms"
}

func (s *RedisStore) messagesKey(roomID string) string {
	return "{" + s.prefix + "}:room:" + roomID + ":messages"
}

func (s *RedisStore) membersKey(roomID string) string {
	return "{" + s.prefix + "}:room:" + roomID + ":members"
}

func (s *RedisStore) userRoomsKey(userID string) string {
	return "{" + s.prefix + "}:user:" + userID + ":rooms"
}

// withRoom runs fn in a transaction that aborts when the rooms hash changes,
// after checking that roomID exists. Aborted transactions are retried.
func (s *RedisStore) withRoom(ctx context.Context, roomID string, fn func(tx *redis.Tx) error) error {
	txf := func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, s.roomsKey(), roomID).Result()
		if err != nil {
			return fmt.Errorf("failed to check room: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, roomID)
		}
		return fn(tx)
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.roomsKey())
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("room %s: %w after %d attempts", roomID, redis.TxFailedErr, maxTxRetries)
}

// CreateMessage implements Store.CreateMessage
func (s *RedisStore) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	err = s.withRoom(ctx, msg.RoomID, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.messagesKey(msg.RoomID), data)
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, cnst.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	stored := *msg
	return &stored, nil
}

// ListMessages implements Store.ListMessages
func (s *RedisStore) ListMessages(ctx context.Context, roomID string) ([]*Message, error) {
	items, err := s.client.LRange(ctx, s.messagesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]*Message, 0, len(items))
	for _, item := range items {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			s.logger.Warn("skipping malformed message",
				zap.String("room_id", roomID),
				zap.Error(err))
			continue
		}
		msgs = append(msgs, &m)
	}
	// concurrent senders may push slightly out of order
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// RoomExists implements Store.RoomExists
func (s *RedisStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.roomsKey(), roomID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return ok, nil
}

// CreateRoom implements Store.CreateRoom
func (s *RedisStore) CreateRoom(ctx context.Context, room *Room) error {
	members := initialMembers(room)
	record := *room
	record.Members = nil
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, s.roomsKey(), room.ID).Result()
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("room already exists: %s", room.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.roomsKey(), room.ID, data)
			for _, id := range members {
				pipe.SAdd(ctx, s.membersKey(room.ID), id)
				pipe.SAdd(ctx, s.userRoomsKey(id), room.ID)
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, s.roomsKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	room.Members = members
	return nil
}

// GetRoom implements Store.GetRoom
func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	data, err := s.client.HGet(ctx, s.roomsKey(), roomID).Result()
	if err == redis.Nil {
		return nil, cnst.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	var room Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	if err := s.loadMembers(ctx, []*Room{&room}); err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom implements Store.DeleteRoom
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	err := s.withRoom(ctx, roomID, func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, s.membersKey(roomID)).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, s.roomsKey(), roomID)
			pipe.Del(ctx, s.messagesKey(roomID), s.membersKey(roomID))
			for _, id := range members {
				pipe.SRem(ctx, s.userRoomsKey(id), roomID)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, cnst.ErrRoomNotFound) {
		return cnst.ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// ListPublicRooms implements Store.ListPublicRooms
func (s *RedisStore) ListPublicRooms(ctx context.Context) ([]*Room, error) {
	all, err := s.client.HGetAll(ctx, s.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]*Room, 0, len(all))
	for id, data := range all {
		room, ok := s.decodeRoom(id, data)
		if !ok || room.IsPrivate {
			continue
		}
		rooms = append(rooms, room)
	}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	sortRoomsNewestFirst(rooms)
	return rooms, nil
}

// AddMember implements Store.AddMember
func (s *RedisStore) AddMember(ctx context.Context, roomID, userID string) error {
	return s.withRoom(ctx, roomID, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, s.membersKey(roomID), userID)
			pipe.SAdd(ctx, s.userRoomsKey(userID), roomID)
			return nil
		})
		return err
	})
}

// RemoveMember implements Store.RemoveMember
func (s *RedisStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	return s.withRoom(ctx, roomID, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, s.membersKey(roomID), userID)
			pipe.SRem(ctx, s.userRoomsKey(userID), roomID)
			return nil
		})
		return err
	})
}

// ListUserRooms implements Store.ListUserRooms
func (s *RedisStore) ListUserRooms(ctx context.Context, userID string) ([]*Room, error) {
	ids, err := s.client.SMembers(ctx, s.userRoomsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user rooms: %w", err)
	}
	rooms := make([]*Room, 0, len(ids))
	if len(ids) == 0 {
		return rooms, nil
	}

	vals, err := s.client.HMGet(ctx, s.roomsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user rooms: %w", err)
	}
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			// deleted between the two reads
			continue
		}
		if room, ok := s.decodeRoom(ids[i], data); ok {
			rooms = append(rooms, room)
		}
	}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	sortRoomsNewestFirst(rooms)
	return rooms, nil
}

func (s *RedisStore) decodeRoom(id, data string) (*Room, bool) {
	var room Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		s.logger.Warn("skipping malformed room", zap.String("room_id", id), zap.Error(err))
		return nil, false
	}
	return &room, true
}

// loadMembers fills Members of every room in one round trip
func (s *RedisStore) loadMembers(ctx context.Context, rooms []*Room) error {
	if len(rooms) == 0 {
		return nil
	}
	cmds := make([]*redis.StringSliceCmd, len(rooms))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, r := range rooms {
			cmds[i] = pipe.SMembers(ctx, s.membersKey(r.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load room members: %w", err)
	}
	for i, r := range rooms {
		r.Members = cmds[i].Val()
		sort.Strings(r.Members)
	}
	return nil
}

// Close implements Store.Close
func (s *RedisStore) Close() error {
	return s.client.Close()
}
