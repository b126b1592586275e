// Package catalogsync implements the index syncer (spec §4.3): it keeps a
// local git checkout of the world index up to date and publishes freshly
// loaded catalog.Snapshot values atomically, the way the teacher's
// internal/realtime.DefaultEventBus publishes events without ever handing
// a reader a half-built value.
package catalogsync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/archipelago-lobby/lobby/internal/core/catalog"
)

// DefaultInterval is the tick period from spec §4.3.
const DefaultInterval = 60 * time.Second

// FailureHook is the "observability hook" spec §4.3 requires the syncer
// report sync failures to, without prescribing what it does with them.
type FailureHook func(err error)

// Syncer maintains dir as a checkout of repoURL at branch, refreshing it
// on a tick and republishing the parsed catalog.Snapshot atomically.
type Syncer struct {
	dir      string
	repoURL  string
	branch   string
	interval time.Duration
	logger   *slog.Logger
	onFail   FailureHook

	current atomic.Pointer[catalog.Snapshot]
}

// New builds a Syncer. dir need not exist yet; it is created by the
// initial clone.
func New(dir, repoURL, branch string, interval time.Duration, logger *slog.Logger, onFail FailureHook) *Syncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onFail == nil {
		onFail = func(error) {}
	}
	return &Syncer{dir: dir, repoURL: repoURL, branch: branch, interval: interval, logger: logger.With("component", "catalogsync"), onFail: onFail}
}

// Snapshot returns the most recently published catalog, or nil before the
// first successful sync.
func (s *Syncer) Snapshot() *catalog.Snapshot {
	return s.current.Load()
}

// Start clones (if absent) and loads an initial snapshot, then runs the
// tick loop until ctx is cancelled. It blocks on the initial sync so
// callers get a populated Snapshot before serving traffic.
func (s *Syncer) Start(ctx context.Context) error {
	if err := s.syncOnce(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.syncOnce(ctx); err != nil {
					// On network failure the syncer retains the last good
					// snapshot (spec §4.3) — current is left untouched.
					s.logger.Warn("catalog sync failed, retaining last good snapshot", "error", err)
					s.onFail(err)
				}
			}
		}
	}()

	return nil
}

func (s *Syncer) syncOnce(ctx context.Context) error {
	if err := s.refreshWorkingTree(ctx); err != nil {
		return err
	}

	snap, err := catalog.Load(s.dir)
	if err != nil {
		return err
	}

	s.current.Store(snap) // atomic publish: readers never see a torn swap
	s.logger.Info("catalog synced", "worlds", len(snap.Worlds))
	return nil
}

func (s *Syncer) refreshWorkingTree(ctx context.Context) error {
	repo, err := git.PlainOpen(s.dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = git.PlainCloneContext(ctx, s.dir, false, &git.CloneOptions{
			URL:           s.repoURL,
			ReferenceName: plumbing.NewBranchReferenceName(s.branch),
			SingleBranch:  true,
		})
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	if err := repo.FetchContext(ctx, &git.FetchOptions{Force: true}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", s.branch), true)
	if err != nil {
		return err
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return err
	}

	return nil
}
