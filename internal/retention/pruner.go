package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

// Tree is the part of the container store the pruner needs.
type Tree interface {
	ListChildren(ctx context.Context, parentID string) ([]storage.Node, error)
	DeleteSubtree(ctx context.Context, id string) error
}

// Report summarizes one prune pass.
type Report struct {
	Considered int
	Deleted    []string
	Failed     []string
	// Missing counts folders already gone when we tried to delete them.
	Missing int
}

// Pruner applies SelectForDeletion to the snapshot folders under a parent.
type Pruner struct {
	tree Tree
	log  logx.Logger
}

func NewPruner(tree Tree, log logx.Logger) *Pruner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pruner{tree: tree, log: log.With(logx.String("comp", "retention"))}
}

// Plan lists the folders under parentID and returns the ones Prune would
// delete, without deleting anything.
func (p *Pruner) Plan(ctx context.Context, parentID string, keepFor time.Duration, now time.Time) ([]storage.Node, error) {
	kids, err := p.tree.ListChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	byID := make(map[string]storage.Node, len(kids))
	snaps := make([]Snapshot, 0, len(kids))
	for _, n := range kids {
		if !n.IsFolder() {
			continue
		}
		byID[n.ID] = n
		snaps = append(snaps, Snapshot{ID: n.ID, CreatedAt: n.CreatedAt})
	}
	ids := SelectForDeletion(snaps, keepFor, now)
	out := make([]storage.Node, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

// Prune deletes the folders selected by Plan. A failed delete is logged and
// the remaining deletes still run; a folder that vanished in the meantime
// counts as deleted.
func (p *Pruner) Prune(ctx context.Context, parentID string, keepFor time.Duration, now time.Time) (Report, error) {
	victims, err := p.Plan(ctx, parentID, keepFor, now)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Considered: len(victims)}
	for _, n := range victims {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		err := p.tree.DeleteSubtree(ctx, n.ID)
		switch {
		case err == nil:
			rep.Deleted = append(rep.Deleted, n.ID)
		case errors.Is(err, storage.ErrNotFound):
			rep.Deleted = append(rep.Deleted, n.ID)
			rep.Missing++
		default:
			rep.Failed = append(rep.Failed, n.ID)
			p.log.Warn("snapshot delete failed",
				logx.String("id", n.ID), logx.String("title", n.Title), logx.Err(err))
		}
	}
	if len(rep.Deleted) > 0 || len(rep.Failed) > 0 {
		p.log.Info("snapshots pruned",
			logx.Int("deleted", len(rep.Deleted)),
			logx.Int("failed", len(rep.Failed)),
			logx.Duration("keep_for", keepFor),
		)
	}
	return rep, nil
}
