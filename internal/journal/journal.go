// Package journal keeps a sqlite record of the protocol traffic of every
// session.
package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one recorded message.
type Entry struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"index;not null"`
	Direction Direction `gorm:"size:3;not null"`
	// Method is the command or notification name; empty for responses.
	Method    string `gorm:"index"`
	MessageID *int64
	Payload   string
	CreatedAt time.Time
}

const bufferSize = 1024

type Journal struct {
	db  *gorm.DB
	log zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
	dropped atomic.Int64
}

// Open creates or opens the journal database at path and starts its writer.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	log = log.With().Str("component", "journal").Logger()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	j := &Journal{
		db:      db,
		log:     log,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go j.write()
	log.Info().Str("path", path).Msg("journal opened")
	return j, nil
}

// Record queues a message for writing. It never blocks; messages are
// dropped while the writer is behind or after Close.
func (j *Journal) Record(sessionID string, dir Direction, payload string) {
	e := Entry{
		SessionID: sessionID,
		Direction: dir,
		Method:    gjson.Get(payload, "method").String(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if id := gjson.Get(payload, "id"); id.Type == gjson.Number {
		n := id.Int()
		e.MessageID = &n
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- e:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) write() {
	defer close(j.done)
	for e := range j.entries {
		batch := []Entry{e}
	drain:
		for len(batch) < 100 {
			select {
			case next, ok := <-j.entries:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := j.db.Create(&batch).Error; err != nil {
			j.log.Error().Err(err).Int("entries", len(batch)).Msg("failed to write journal entries")
		}
	}
}

// Entries returns the messages of a session in recording order.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read journal of session %s: %w", sessionID, err)
	}
	return entries, nil
}

// Close flushes queued entries and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.entries)
	j.mu.Unlock()

	<-j.done
	if dropped := j.dropped.Load(); dropped > 0 {
		j.log.Warn().Int64("dropped", dropped).Msg("journal dropped entries")
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
