package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
)

// Entry is one domain action to record.
type Entry struct {
	Actor    string
	Action   string
	Entity   string
	EntityID uuid.UUID
	Detail   map[string]any
}

// Sink records audit entries best-effort. Record never blocks the caller;
// when the buffer is full the entry is dropped with a warning.
type Sink interface {
	Record(ctx context.Context, entry Entry)
	Close()
}

type sink struct {
	db      *gorm.DB
	logg    *logger.Logger
	entries chan Entry
	done    chan struct{}
	once    sync.Once
}

// NewSink starts the background writer. bufferSize bounds how many entries
// may be pending before new ones are dropped.
func NewSink(db *gorm.DB, bufferSize int, logg *logger.Logger) (Sink, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit sink requires a database")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit sink requires a logger")
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	s := &sink{
		db:      db,
		logg:    logg,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *sink) Record(ctx context.Context, entry Entry) {
	select {
	case s.entries <- entry:
	default:
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"action": entry.Action,
			"entity": entry.Entity,
		})
		s.logg.Warn(logCtx, "audit buffer full, entry dropped")
	}
}

// Close stops accepting entries and drains what is already buffered.
func (s *sink) Close() {
	s.once.Do(func() {
		close(s.entries)
		<-s.done
	})
}

func (s *sink) run() {
	defer close(s.done)
	ctx := context.Background()
	for entry := range s.entries {
		s.write(ctx, entry)
	}
}

func (s *sink) write(ctx context.Context, entry Entry) {
	var detail json.RawMessage
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			s.logg.Warn(ctx, "audit detail not serializable")
		} else {
			detail = raw
		}
	}

	row := models.AuditLog{
		Actor:    entry.Actor,
		Action:   entry.Action,
		Entity:   entry.Entity,
		EntityID: entry.EntityID,
		Detail:   detail,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"action": entry.Action,
			"entity": entry.Entity,
		})
		s.logg.Warn(logCtx, "audit write failed")
	}
}
