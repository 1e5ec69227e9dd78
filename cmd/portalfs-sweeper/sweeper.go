package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/portalfs/pkg/clipboard"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// sweeper runs the maintenance tasks. None of them is needed for
// correctness; reads already treat expired entries as gone.
type sweeper struct {
	clipboard *clipboard.Service
	links     *sharelinks.Service
	jobs      *jobs.Engine
	nodes     *nodes.Service
	clock     vfs.Clock
	logger    *logrus.Logger

	jobRetention  time.Duration
	jobStaleAfter time.Duration
	keepVersions  int
}

type task struct {
	name string
	run  func(context.Context) error
}

func (s *sweeper) tasks() []task {
	return []task{
		{"clipboard", s.expireClipboards},
		{"share-links", s.deactivateShareLinks},
		{"jobs", s.cleanupJobs},
		{"versions", s.pruneVersions},
	}
}

func (s *sweeper) expireClipboards(ctx context.Context) error {
	n, err := s.clipboard.ExpireDue(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("expired", n).Info("Clipboard entries swept")
	return nil
}

func (s *sweeper) deactivateShareLinks(ctx context.Context) error {
	n, err := s.links.DeactivateInvalid(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("deactivated", n).Info("Share links swept")
	return nil
}

func (s *sweeper) cleanupJobs(ctx context.Context) error {
	stale, err := s.jobs.FailStale(ctx, s.jobStaleAfter)
	if err != nil {
		return err
	}
	purged, err := s.jobs.PurgeFinished(ctx, s.clock.Now().Add(-s.jobRetention))
	if err != nil {
		return err
	}
	pending, err := s.jobs.CountByStatus(ctx, jobs.StatusPending)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"failed_stale": stale,
		"purged":       purged,
		"pending":      pending,
	}).Info("Jobs swept")
	return nil
}

func (s *sweeper) pruneVersions(ctx context.Context) error {
	ids, err := s.nodes.NodesWithObsoleteVersions(ctx, s.keepVersions)
	if err != nil {
		return err
	}

	pruned := 0
	for _, id := range ids {
		n, err := s.nodes.PruneVersions(ctx, id, s.keepVersions)
		pruned += n
		if err != nil {
			return fmt.Errorf("failed to prune versions of node %d: %w", id, err)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"files":  len(ids),
		"pruned": pruned,
	}).Info("File versions pruned")
	return nil
}

// runAll runs every task and reports the first failure after trying them all
func (s *sweeper) runAll(ctx context.Context) error {
	var firstErr error
	for _, t := range s.tasks() {
		if err := t.run(ctx); err != nil {
			s.logger.WithError(err).Errorf("Task %s failed", t.name)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", t.name, err)
			}
		}
	}
	return firstErr
}
