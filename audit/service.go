// Package audit persists API actions and the per-encounter event journal.
// Writes are queued and flushed in batches by one background goroutine so
// request handlers and arena ticks never wait on the database.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/coopwave/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Options tunes the write queue. Zero fields take the defaults.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	return o
}

// AuditEntry holds one API action to be logged.
type AuditEntry struct {
	TraceID     string
	EncounterID string
	PlayerID    *int64
	PlayerName  string
	Action      string
	Request     any
	Response    any
	Error       string
	IP          string
	DurationMs  int
}

// Service owns the write queue and answers journal queries.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	opts    Options
	queue   chan pending
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
}

// New starts a Service with default queue options.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	return NewWithOptions(db, logger, Options{})
}

// NewWithOptions starts a Service with the given queue options.
func NewWithOptions(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	svc := &Service{
		db:    db,
		log:   logger.Named("audit"),
		opts:  opts,
		queue: make(chan pending, opts.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go svc.run()
	return svc
}

// Log queues one API action. Request and Response are stored as JSON.
func (svc *Service) Log(entry AuditEntry) {
	row := &model.AuditLog{
		TraceID:     entry.TraceID,
		EncounterID: entry.EncounterID,
		PlayerID:    entry.PlayerID,
		PlayerName:  entry.PlayerName,
		Action:      entry.Action,
		Request:     asJSON(entry.Request),
		Response:    asJSON(entry.Response),
		Error:       entry.Error,
		IP:          entry.IP,
		DurationMs:  entry.DurationMs,
	}
	svc.push(pending{audit: row}, entry.Action)
}

func asJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// push never blocks. After Stop, or with a full queue, the item is dropped.
func (svc *Service) push(p pending, what string) {
	select {
	case <-svc.quit:
		return
	default:
	}
	select {
	case svc.queue <- p:
	default:
		if n := svc.dropped.Add(1); n == 1 || n%100 == 0 {
			svc.log.Warn("audit queue full, dropping", zap.String("what", what), zap.Uint64("dropped", n))
		}
	}
}

// Dropped reports how many items were discarded because the queue was full.
func (svc *Service) Dropped() uint64 {
	return svc.dropped.Load()
}

// Stop writes whatever is still queued and waits for the writer to exit.
// Later calls return immediately.
func (svc *Service) Stop(ctx context.Context) {
	svc.stop.Do(func() { close(svc.quit) })
	select {
	case <-svc.done:
	case <-ctx.Done():
		svc.log.Warn("audit stop timed out, queued rows may be lost")
	}
}

// Events returns the journal of one encounter in insertion order. A
// non-positive limit returns everything.
func (svc *Service) Events(ctx context.Context, encounterID string, limit int) ([]model.EncounterEvent, error) {
	q := svc.db.WithContext(ctx).Where("encounter_id = ?", encounterID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.EncounterEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Encounter returns the stored summary of one encounter.
func (svc *Service) Encounter(ctx context.Context, encounterID string) (*model.EncounterRecord, error) {
	rec := new(model.EncounterRecord)
	if err := svc.db.WithContext(ctx).Where("id = ?", encounterID).Take(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}
