package store

import (
	"context"
	"encoding/json"
)

// projection is the restricted slice of state kept in durable storage.
// It holds ids only and is never trusted for authorization.
type projection struct {
	CurrentCompanyID string `json:"currentCompanyId,omitempty"`
	UserID           string `json:"userId,omitempty"`
	ProfileID        string `json:"profileId,omitempty"`
}

func (p projection) empty() bool { return p == projection{} }

// Hint returns the projection restored by Start.
func (s *Store) Hint() (userID, companyID string) {
	return s.hint.UserID, s.hint.CurrentCompanyID
}

func (s *Store) restore(ctx context.Context) projection {
	raw, ok, err := s.storage.Get(ctx, s.cfg.PersistKey)
	if err != nil {
		s.logger.Warn("reading persisted state failed", "key", s.cfg.PersistKey, "err", err)
		return projection{}
	}
	if !ok {
		return projection{}
	}
	var p projection
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("ignoring unreadable persisted state", "key", s.cfg.PersistKey, "err", err)
		return projection{}
	}
	s.persistMu.Lock()
	s.persisted = p
	s.persistMu.Unlock()
	return p
}

func (s *Store) current() projection {
	p := projection{
		UserID:           s.session.UserID(),
		CurrentCompanyID: s.tenant.CurrentID(),
	}
	if pr := s.session.Profile(); pr != nil {
		p.ProfileID = pr.ID
	}
	return p
}

// persist writes the projection when it differs from the last write. An
// all-empty projection deletes the key.
func (s *Store) persist() {
	next := s.current()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if next == s.persisted {
		return
	}
	ctx := context.Background()
	if next.empty() {
		if err := s.storage.Delete(ctx, s.cfg.PersistKey); err != nil {
			s.logger.Warn("clearing persisted state failed", "err", err)
			return
		}
		s.persisted = next
		return
	}
	data, err := json.Marshal(next)
	if err != nil {
		s.logger.Warn("encoding persisted state failed", "err", err)
		return
	}
	if err := s.storage.Set(ctx, s.cfg.PersistKey, string(data)); err != nil {
		s.logger.Warn("persisting state failed", "err", err)
		return
	}
	s.persisted = next
}
