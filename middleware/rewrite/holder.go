package rewrite

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Holder holds the active RuleSet and allows to swap it while requests are
// served
type Holder struct {
	rules atomic.Pointer[RuleSet]
}

// NewHolder returns a Holder for the passed RuleSet
func NewHolder(rs *RuleSet) *Holder {
	h := &Holder{}
	h.Store(rs)
	return h
}

// Load returns the active RuleSet, never nil
func (h *Holder) Load() *RuleSet {
	if rs := h.rules.Load(); rs != nil {
		return rs
	}
	return &RuleSet{}
}

// Store replaces the active RuleSet
func (h *Holder) Store(rs *RuleSet) {
	if rs == nil {
		rs = &RuleSet{}
	}
	h.rules.Store(rs)
}

// Reload re-reads the rule file at path. On error the active rules are kept.
func (h *Holder) Reload(path string) error {
	rs, err := Load(path)
	if err != nil {
		return err
	}
	h.Store(rs)
	return nil
}

// Watch reloads the rule file whenever it changes until the context is
// cancelled. The parent directory is watched so that files replaced by
// rename are picked up.
func Watch(ctx context.Context, path string, h *Holder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create rewrite rule watcher")
	}
	path = filepath.Clean(path)
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "could not watch '%s'", filepath.Dir(path))
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path ||
					!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := h.Reload(path); err != nil {
					log.WithError(err).Error("could not reload rewrite rules, keeping previous rules")
					continue
				}
				log.WithField("file", path).Info("reloaded rewrite rules")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("rewrite rule watcher error")
			}
		}
	}()
	return nil
}
