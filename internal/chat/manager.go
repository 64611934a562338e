package chat

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/whisper/roulette/internal/matching"
)

// Manager creates and tears down sessions. It is not safe for concurrent
// use; the engine loop owns it.
type Manager struct {
	sessions    map[string]*Session
	byMember    map[string]string
	archive     *Archive
	transcripts *Transcripts
	newID       func(time.Time) string
	created     uint64
}

func NewManager(archiveSize int) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		byMember:    make(map[string]string),
		archive:     NewArchive(archiveSize),
		transcripts: NewTranscripts(),
		newID:       NewSessionID,
	}
}

// Create opens an active session between a and b.
func (m *Manager) Create(a, b Member, now time.Time) (*Session, error) {
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return nil, fmt.Errorf("chat: invalid pair %q/%q", a.ID, b.ID)
	}
	for _, id := range []string{a.ID, b.ID} {
		if sid, ok := m.byMember[id]; ok {
			return nil, fmt.Errorf("chat: %s already in session %s", id, sid)
		}
	}

	shared := matching.SharedInterests(a.Interests, b.Interests)
	s := &Session{
		ID:              m.newID(now),
		A:               a,
		B:               b,
		CreatedAt:       now,
		LastActivity:    now,
		SharedInterests: shared,
		Tags:            computeTags(a, b, shared),
		Status:          StatusActive,
	}
	m.sessions[s.ID] = s
	m.byMember[a.ID] = s.ID
	m.byMember[b.ID] = s.ID
	m.created++
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// ByMember returns the active session participant id belongs to.
func (m *Manager) ByMember(id string) (*Session, bool) {
	sid, ok := m.byMember[id]
	if !ok {
		return nil, false
	}
	return m.Get(sid)
}

// Teardown closes the session, archives its terminal record and drops its
// transcript. Unknown ids are a no-op.
func (m *Manager) Teardown(id, reason string, now time.Time) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	delete(m.sessions, id)
	delete(m.byMember, s.A.ID)
	delete(m.byMember, s.B.ID)
	m.transcripts.Remove(id)

	s.Status = StatusClosed
	s.Reason = reason
	s.ClosedAt = now
	m.archive.Add(Record{
		ID:           s.ID,
		CountryPair:  s.CountryPair(),
		CreatedAt:    s.CreatedAt,
		ClosedAt:     now,
		Duration:     now.Sub(s.CreatedAt),
		MessageCount: s.MessageCount,
		Media:        s.Media,
		Reason:       reason,
		Tags:         slices.Clone(s.Tags),
	})
	return s, true
}

// RecordActivity is the only liveness signal the reaper consults.
func (m *Manager) RecordActivity(id, kind string, now time.Time) bool {
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.LastActivity = now
	switch kind {
	case ActivityMessage:
		s.MessageCount++
	case ActivitySignal:
		s.SignalCount++
		s.Media = true
	}
	return true
}

// AddLine appends to the session transcript.
func (m *Manager) AddLine(id string, l Line) {
	if _, ok := m.sessions[id]; ok {
		m.transcripts.Add(id, l)
	}
}

func (m *Manager) Transcript(id string) []Line {
	return m.transcripts.Get(id)
}

func (m *Manager) Len() int {
	return len(m.sessions)
}

// All returns active sessions ordered by creation time, then id.
func (m *Manager) All() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MediaCount counts active sessions that have relayed signaling.
func (m *Manager) MediaCount() int {
	n := 0
	for _, s := range m.sessions {
		if s.Media {
			n++
		}
	}
	return n
}

func (m *Manager) Archive() *Archive {
	return m.archive
}

// TotalCreated counts every session ever created.
func (m *Manager) TotalCreated() uint64 {
	return m.created
}
