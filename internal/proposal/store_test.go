package proposal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
)

func TestFileStoreLoadsMixedPlanShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.json")
	doc := `{"version":3,"proposals":[
		{"id":"p1","owner_id":"v1","status":"pending","plan":[{"symbol":"VTI","weight":70},{"symbol":"BND","weight":30}],"created_at":"2026-01-01T00:00:00Z"},
		{"id":"p2","owner_id":"v1","status":"pending","plan":{"target_allocation":{"QQQ":50,"GLD":50}},"alpacaAccountId":"acct-2","created_at":"2026-01-02T00:00:00Z"},
		{"id":"p3","owner_id":"v1","status":"approved","plan":{"SPY":100},"created_at":"2026-01-03T00:00:00Z"},
		{"id":"p4","owner_id":"v2","status":"pending","plan":{"SPY":100},"created_at":"2026-01-04T00:00:00Z"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	s := NewFileStore(path)
	require.NoError(t, s.Load())

	got, err := s.ListPending(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, allocation.ShapePairs, got[0].Plan.Shape)
	assert.Equal(t, "VTI", got[0].Weights()[0].Symbol)
	assert.Equal(t, allocation.ShapeTargetAllocation, got[1].Plan.Shape)
	assert.Equal(t, "QQQ", got[1].Weights()[0].Symbol)
	assert.Equal(t, "acct-2", got[1].AlpacaAccountID)
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "proposals.json")
	s := NewFileStore(path)
	require.NoError(t, s.Load())

	p, err := allocation.Parse([]byte(`{"AAA":60,"BBB":40}`))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Proposal{ID: "p1", OwnerID: "v1", Plan: p}))

	approved, err := s.SetStatus(ctx, "p1", StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	_, err = s.SetStatus(ctx, "p1", StatusRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.SetStatus(ctx, "p1", "pending")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.SetStatus(ctx, "missing", StatusApproved)
	assert.ErrorIs(t, err, ErrNotFound)

	// state survives a reload and keeps the original plan encoding
	reloaded := NewFileStore(path)
	require.NoError(t, reloaded.Load())
	got, err := reloaded.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, allocation.ShapeMap, got.Plan.Shape)
	pending, err := reloaded.ListPending(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
