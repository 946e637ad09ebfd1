package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scanwedge/internal/store"
)

// Pipeline stores a record locally and then delivers it.
type Pipeline struct {
	store    *store.Store
	client   *Client
	endpoint string
	log      *slog.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline. A nil store skips local persistence.
func NewPipeline(st *store.Store, client *Client, endpoint string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		client:   client,
		endpoint: endpoint,
		log:      logger.With(slog.String("component", "submit")),
		now:      time.Now,
	}
}

// Submit records and posts one form. The returned message is meant for
// the operator. When the record was stored but could not be delivered the
// error says so and the record stays pending for Sync.
func (p *Pipeline) Submit(ctx context.Context, form string, fields map[string]any) (string, error) {
	rec := &store.Record{Form: form, Fields: fields, CreatedAt: p.now()}
	if p.store != nil {
		if _, err := p.store.InsertRecord(rec); err != nil {
			return "", fmt.Errorf("save record: %w", err)
		}
	}
	return p.deliver(ctx, rec)
}

func (p *Pipeline) deliver(ctx context.Context, rec *store.Record) (string, error) {
	resp, err := p.client.Post(ctx, p.endpoint, rec.ClientID, rec.Fields)
	switch {
	case err == nil:
		p.markSynced(rec)
		return resp.Message, nil
	case errors.Is(err, ErrAlreadyRecorded):
		p.markSynced(rec)
		return "", err
	case errors.Is(err, ErrRejected):
		// The backend saw the record and refused it; retrying will not help.
		p.markSynced(rec)
		return "", err
	default:
		p.markFailed(rec, err)
		if p.store != nil {
			return "", fmt.Errorf("saved locally, delivery pending: %w", err)
		}
		return "", err
	}
}

func (p *Pipeline) markSynced(rec *store.Record) {
	if p.store == nil || rec.ID == 0 {
		return
	}
	if err := p.store.MarkSynced(rec.ID, p.now()); err != nil {
		p.log.Warn("mark record synced", "id", rec.ID, "error", err)
	}
}

func (p *Pipeline) markFailed(rec *store.Record, cause error) {
	p.log.Warn("record delivery failed", "client_id", rec.ClientID, "error", cause)
	if p.store == nil || rec.ID == 0 {
		return
	}
	if err := p.store.MarkFailed(rec.ID, cause.Error()); err != nil {
		p.log.Warn("mark record failed", "id", rec.ID, "error", err)
	}
}

// SyncReport summarizes one Sync pass.
type SyncReport struct {
	Attempted int
	Delivered int
	Failed    int
}

// Sync re-posts up to limit pending records, oldest first. A negative limit
// means all. It stops early when ctx is done.
func (p *Pipeline) Sync(ctx context.Context, limit int) (SyncReport, error) {
	var rep SyncReport
	if p.store == nil {
		return rep, errors.New("no local store")
	}
	pending, err := p.store.PendingRecords(limit)
	if err != nil {
		return rep, err
	}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec := &pending[i]
		rep.Attempted++
		if _, err := p.deliver(ctx, rec); err != nil && !errors.Is(err, ErrAlreadyRecorded) && !errors.Is(err, ErrRejected) {
			rep.Failed++
			continue
		}
		rep.Delivered++
	}
	if rep.Attempted > 0 {
		p.log.Info("sync finished", "attempted", rep.Attempted, "delivered", rep.Delivered, "failed", rep.Failed)
	}
	return rep, nil
}
