package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// snapshotVersion records the pre-update state of a context and prunes
// history beyond the configured retention.
func (s *Service) snapshotVersion(ctx context.Context, current *contexts.Context) error {
	latest, err := s.store.LatestVersion(ctx, current.ID)
	if err != nil {
		return fmt.Errorf("reading latest version: %w", err)
	}

	version := &contexts.ContextVersion{
		ContextID: current.ID,
		Version:   latest + 1,
		Content:   current.Content,
		Metadata:  current.Metadata.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutVersion(ctx, version); err != nil {
		return fmt.Errorf("writing version snapshot: %w", err)
	}
	if err := s.store.PruneVersions(ctx, current.ID, s.config.MaxVersions); err != nil {
		return fmt.Errorf("pruning versions: %w", err)
	}
	return nil
}

// GetVersions returns up to limit version snapshots, newest first.
func (s *Service) GetVersions(ctx context.Context, id string, limit int) ([]*contexts.ContextVersion, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id required", contexts.ErrValidation)
	}
	return s.store.GetVersions(ctx, id, limit)
}

// RestoreVersion re-applies a prior snapshot through the normal update
// path, so restoring itself creates a new version and re-embeds. History
// is never rewritten.
func (s *Service) RestoreVersion(ctx context.Context, id string, version int) (*contexts.Context, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id required", contexts.ErrValidation)
	}

	snapshots, err := s.store.GetVersions(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	var snapshot *contexts.ContextVersion
	for _, v := range snapshots {
		if v.Version == version {
			snapshot = v
			break
		}
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: context %s version %d", contexts.ErrVersionNotFound, id, version)
	}

	metadata := snapshot.Metadata.Clone()
	return s.Update(ctx, UpdateRequest{
		ID:                   id,
		Content:              &snapshot.Content,
		Metadata:             &metadata,
		RegenerateEmbeddings: true,
	})
}
