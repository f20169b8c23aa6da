// Package cursor holds the resumption point of one stream subscription.
package cursor

import (
	"net/url"
	"sync"
)

// Kind names which upstream resume parameter a cursor maps to
type Kind int

const (
	KindNone Kind = iota
	KindEventID
	KindULID
)

func (k Kind) String() string {
	switch k {
	case KindEventID:
		return "EVENT_ID"
	case KindULID:
		return "ULID"
	default:
		return "NONE"
	}
}

// Query parameter names shared by the gateway and the upstream brokerage stream
const (
	ParamSince     = "since"
	ParamSinceID   = "since_id"
	ParamSinceULID = "since_ulid"
)

// Cursor is a resume point
type Cursor struct {
	Kind  Kind
	Value string
}

func (c Cursor) IsZero() bool { return c.Kind == KindNone || c.Value == "" }

// Apply sets the matching resume parameter on q. A zero cursor leaves q alone.
func (c Cursor) Apply(q url.Values) {
	switch {
	case c.IsZero():
	case c.Kind == KindULID:
		q.Set(ParamSinceULID, c.Value)
	case c.Kind == KindEventID:
		q.Set(ParamSinceID, c.Value)
	}
}

// Identifiers are the ids found on one received event
type Identifiers struct {
	ULID        string // semantic-ordered unique id from the payload
	EventID     string // opaque sequence id from the payload
	LastEventID string // transport-level id: line
}

// Best picks the most specific identifier: ULID, then sequence id, then the
// transport marker. The transport marker is treated as a sequence id.
func (ids Identifiers) Best() (Cursor, bool) {
	switch {
	case ids.ULID != "":
		return Cursor{Kind: KindULID, Value: ids.ULID}, true
	case ids.EventID != "":
		return Cursor{Kind: KindEventID, Value: ids.EventID}, true
	case ids.LastEventID != "":
		return Cursor{Kind: KindEventID, Value: ids.LastEventID}, true
	}
	return Cursor{}, false
}

// Store keeps zero or one cursor for the account it is bound to.
// Only the stream client's receive path writes it.
type Store struct {
	mu        sync.RWMutex
	accountID string
	cur       Cursor
}

func NewStore() *Store {
	return &Store{}
}

// Bind points the store at accountID, dropping the cursor if the target changed
func (s *Store) Bind(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountID != accountID {
		s.accountID = accountID
		s.cur = Cursor{}
	}
}

func (s *Store) Get() (Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, !s.cur.IsZero()
}

// Set stores c. Zero cursors are ignored so the store never regresses to empty
// except through Reset or Bind.
func (s *Store) Set(c Cursor) {
	if c.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = c
}

// Observe advances the store from the ids carried by one event
func (s *Store) Observe(ids Identifiers) bool {
	c, ok := ids.Best()
	if !ok {
		return false
	}
	s.Set(c)
	return true
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Cursor{}
}
