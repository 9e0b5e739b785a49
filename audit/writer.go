package audit

import (
	"time"

	"github.com/kasuganosora/coopwave/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pending is one queued write. Exactly one field is set.
type pending struct {
	audit   *model.AuditLog
	event   *model.EncounterEvent
	summary *model.EncounterRecord
}

// batch collects inserts between flushes. Summaries are upserts keyed by
// encounter ID, so only the latest per encounter is kept.
type batch struct {
	audits    []*model.AuditLog
	events    []*model.EncounterEvent
	summaries map[string]*model.EncounterRecord
	order     []string
}

func (b *batch) add(p pending) {
	switch {
	case p.audit != nil:
		b.audits = append(b.audits, p.audit)
	case p.event != nil:
		b.events = append(b.events, p.event)
	case p.summary != nil:
		if b.summaries == nil {
			b.summaries = make(map[string]*model.EncounterRecord)
		}
		if _, seen := b.summaries[p.summary.ID]; !seen {
			b.order = append(b.order, p.summary.ID)
		}
		b.summaries[p.summary.ID] = p.summary
	}
}

func (b *batch) size() int {
	return len(b.audits) + len(b.events) + len(b.order)
}

func (b *batch) reset() {
	b.audits = b.audits[:0]
	b.events = b.events[:0]
	b.order = b.order[:0]
	clear(b.summaries)
}

// write stores the batch in one transaction.
func (b *batch) write(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if len(b.audits) > 0 {
			if err := tx.Create(&b.audits).Error; err != nil {
				return err
			}
		}
		if len(b.events) > 0 {
			if err := tx.Create(&b.events).Error; err != nil {
				return err
			}
		}
		for _, id := range b.order {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"state", "wave", "seq", "ended_at", "updated_at"}),
			}).Create(b.summaries[id]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (svc *Service) run() {
	defer close(svc.done)
	tick := time.NewTicker(svc.opts.FlushInterval)
	defer tick.Stop()

	var b batch
	flush := func() {
		if b.size() == 0 {
			return
		}
		if err := b.write(svc.db); err != nil {
			svc.log.Error("batch write failed",
				zap.Int("audits", len(b.audits)),
				zap.Int("events", len(b.events)),
				zap.Int("summaries", len(b.order)),
				zap.Error(err))
		}
		b.reset()
	}

	for {
		select {
		case p := <-svc.queue:
			b.add(p)
			if b.size() >= svc.opts.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		case <-svc.quit:
			for {
				select {
				case p := <-svc.queue:
					b.add(p)
				default:
					flush()
					return
				}
			}
		}
	}
}
