package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/roomhub/internal/common/cnst"
	"github.com/amoylab/roomhub/internal/common/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseType represents the supported database types
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// ErrInvalidDatabaseType is returned for an unsupported database type
var ErrInvalidDatabaseType = errors.New("invalid database type")

// DBStore implements Store using gorm
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore opens the database described by cfg and migrates the schema
func NewDBStore(logger *zap.Logger, cfg *config.DatabaseConfig) (*DBStore, error) {
	logger = logger.Named("chat.store.db")

	dsn := cfg.GetDSN()
	var dialector gorm.Dialector
	switch DatabaseType(cfg.Type) {
	case PostgreSQL:
		dialector = postgres.Open(dsn)
	case MySQL:
		dialector = mysql.Open(dsn)
	case SQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDatabaseType, cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	if DatabaseType(cfg.Type) == SQLite {
		// every pooled connection to :memory: would get its own database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Room{}, &Message{}, &RoomMember{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("database store ready", zap.String("type", cfg.Type))
	return &DBStore{
		logger: logger,
		db:     db,
	}, nil
}

// CreateMessage implements Store.CreateMessage. The room row is share-locked
// for the insert so a concurrent DeleteRoom cannot orphan the message.
func (s *DBStore) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	stored := *msg
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, msg.RoomID); err != nil {
			return err
		}
		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// lockRoom takes a shared lock on the room row, or returns ErrRoomNotFound.
// SQLite has no row locks and serializes writers instead.
func lockRoom(tx *gorm.DB, roomID string) error {
	var room Room
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Select("id").
		Where("id = ?", roomID).
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", cnst.ErrRoomNotFound, roomID)
	}
	return err
}

// ListMessages implements Store.ListMessages
func (s *DBStore) ListMessages(ctx context.Context, roomID string) ([]*Message, error) {
	var msgs []*Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc").
		Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// RoomExists implements Store.RoomExists
func (s *DBStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateRoom implements Store.CreateRoom
func (s *DBStore) CreateRoom(ctx context.Context, room *Room) error {
	room.Members = initialMembers(room)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		if len(room.Members) == 0 {
			return nil
		}
		rows := make([]RoomMember, 0, len(room.Members))
		for _, id := range room.Members {
			rows = append(rows, RoomMember{RoomID: room.ID, UserID: id, CreatedAt: room.CreatedAt})
		}
		return tx.Create(&rows).Error
	})
}

// GetRoom implements Store.GetRoom
func (s *DBStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cnst.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, []*Room{&room}); err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom implements Store.DeleteRoom
func (s *DBStore) DeleteRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", roomID).Delete(&Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return cnst.ErrRoomNotFound
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&RoomMember{}).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", roomID).Delete(&Message{}).Error
	})
}

// ListPublicRooms implements Store.ListPublicRooms
func (s *DBStore) ListPublicRooms(ctx context.Context) ([]*Room, error) {
	var rooms []*Room
	err := s.db.WithContext(ctx).
		Where("is_private = ?", false).
		Order("created_at desc").
		Order("id desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// AddMember implements Store.AddMember
func (s *DBStore) AddMember(ctx context.Context, roomID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		member := RoomMember{RoomID: roomID, UserID: userID, CreatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
	})
}

// RemoveMember implements Store.RemoveMember
func (s *DBStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		return tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&RoomMember{}).Error
	})
}

// ListUserRooms implements Store.ListUserRooms
func (s *DBStore) ListUserRooms(ctx context.Context, userID string) ([]*Room, error) {
	var rooms []*Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.created_at desc").
		Order("rooms.id desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// loadMembers fills Members of every room with one query
func (s *DBStore) loadMembers(ctx context.Context, rooms []*Room) error {
	if len(rooms) == 0 {
		return nil
	}
	byID := make(map[string]*Room, len(rooms))
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		r.Members = []string{}
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	var rows []RoomMember
	err := s.db.WithContext(ctx).
		Where("room_id IN ?", ids).
		Order("user_id asc").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to load room members: %w", err)
	}
	for _, m := range rows {
		if r, ok := byID[m.RoomID]; ok {
			r.Members = append(r.Members, m.UserID)
		}
	}
	return nil
}

// Close implements Store.Close
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
