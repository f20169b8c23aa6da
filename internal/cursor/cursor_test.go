package cursor

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorePrefersMostSpecificIdentifier(t *testing.T) {
	s := NewStore()
	_, ok := s.Get()
	assert.False(t, ok, "fresh store has no cursor")

	s.Observe(Identifiers{EventID: "41", LastEventID: "41", ULID: "01HZX"})
	c, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, Cursor{Kind: KindULID, Value: "01HZX"}, c)

	s.Observe(Identifiers{EventID: "42", LastEventID: "t-9"})
	c, _ = s.Get()
	assert.Equal(t, Cursor{Kind: KindEventID, Value: "42"}, c)

	s.Observe(Identifiers{LastEventID: "t-10"})
	c, _ = s.Get()
	assert.Equal(t, Cursor{Kind: KindEventID, Value: "t-10"}, c)
}

func TestStoreKeepsLastNonEmptyIdentifier(t *testing.T) {
	s := NewStore()
	s.Bind("acct-1")
	seq := []Identifiers{{ULID: "01A"}, {}, {ULID: "01B"}, {}, {}}
	for _, ids := range seq {
		s.Observe(ids)
	}
	c, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "01B", c.Value)

	// rebinding to the same account keeps the cursor
	s.Bind("acct-1")
	_, ok = s.Get()
	assert.True(t, ok)
}

func TestBindToNewAccountResets(t *testing.T) {
	s := NewStore()
	s.Bind("acct-1")
	s.Set(Cursor{Kind: KindEventID, Value: "10"})

	s.Bind("acct-2")
	_, ok := s.Get()
	assert.False(t, ok)

	s.Set(Cursor{Kind: KindEventID, Value: "11"})
	s.Reset()
	_, ok = s.Get()
	assert.False(t, ok)
}

func TestCursorApply(t *testing.T) {
	q := url.Values{}
	Cursor{Kind: KindULID, Value: "01A"}.Apply(q)
	assert.Equal(t, "01A", q.Get(ParamSinceULID))
	assert.Empty(t, q.Get(ParamSinceID))

	q = url.Values{}
	Cursor{}.Apply(q)
	assert.Empty(t, q)
}

func TestFromPayload(t *testing.T) {
	ids := FromPayload(map[string]any{"event_id": float64(1234567), "event_ulid": "01J1"}, "t-1")
	assert.Equal(t, Identifiers{ULID: "01J1", EventID: "1234567", LastEventID: "t-1"}, ids)

	ids = FromPayload(map[string]any{"account_id": "a"}, "")
	_, ok := ids.Best()
	assert.False(t, ok)
}
