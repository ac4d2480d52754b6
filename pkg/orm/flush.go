package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/query"
)

// flush writes dirty state and link changes of every managed instance first,
// then removals. Updates that clear a reference to a removed row therefore
// reach the backend before its DELETE. Removed instances leave the
// persistence context once their row is gone.
func (s *Session) flush(ctx context.Context) error {
	written := 0
	var gone []*record
	entries := s.pc.entries()

	for _, rec := range entries {
		if rec.state != Managed || rec.readOnly {
			continue
		}
		cols, vals := changedColumns(rec)
		if len(cols) > 0 {
			if _, err := s.exec(ctx, query.UpdateRow(rec.mapping, rec.entity.ID(), cols, vals)); err != nil {
				return err
			}
			written++
			s.pending.entry(rec.key, rec.mapping.Table, entity.NormalizeID(rec.entity.ID()))
		}
		links, err := s.flushLinks(ctx, rec)
		if err != nil {
			return err
		}
		written += links
		if len(cols) > 0 || links > 0 {
			s.pc.Snapshot(rec.entity)
			s.touched[rec.mapping.Table] = true
		}
	}

	for _, rec := range entries {
		if rec.state != Removed {
			continue
		}
		id := rec.entity.ID()
		for _, a := range rec.mapping.JoinTables() {
			if _, err := s.exec(ctx, query.DeleteLinks(a, id)); err != nil {
				return err
			}
		}
		if _, err := s.exec(ctx, query.DeleteRow(rec.mapping, id)); err != nil {
			return err
		}
		written++
		gone = append(gone, rec)
	}

	for _, rec := range gone {
		s.pc.drop(rec)
		s.touched[rec.mapping.Table] = true
		s.pending.entry(rec.key, rec.mapping.Table, entity.NormalizeID(rec.entity.ID()))
	}

	s.engine.metrics.RecordFlush(written)
	if written > 0 && s.engine.config.LogFlushes {
		s.logger.InfoContext(ctx, "flushed persistence context", "rows", written, "removed", len(gone))
	}
	return nil
}

// flushLinks writes the join-table difference of every owning collection of
// rec and returns the number of statements issued
func (s *Session) flushLinks(ctx context.Context, rec *record) (int, error) {
	statements := 0
	ownerID := rec.entity.ID()
	for _, a := range rec.mapping.JoinTables() {
		added, removed, replace := linkDiff(rec, a)
		if !replace && len(added) == 0 && len(removed) == 0 {
			continue
		}
		if replace {
			if _, err := s.exec(ctx, query.DeleteLinks(a, ownerID)); err != nil {
				return statements, err
			}
			statements++
		}
		for _, targetID := range removed {
			if _, err := s.exec(ctx, query.DeleteLink(a, ownerID, targetID)); err != nil {
				return statements, err
			}
			statements++
		}
		for _, targetID := range added {
			if entity.IsZeroID(targetID) {
				return statements, &EntityError{Op: "flush", Entity: rec.mapping.Name, ID: ownerID,
					Err: fmt.Errorf("%w: %s.%s", ErrTransientReference, rec.mapping.Name, a.Name)}
			}
			if _, err := s.exec(ctx, query.InsertLink(a, ownerID, targetID)); err != nil {
				return statements, err
			}
			statements++
		}
	}
	return statements, nil
}
