package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
)

func ledgers(t *testing.T) map[string]Ledger {
	fl, err := NewFile(filepath.Join(t.TempDir(), "data", "activities.jsonl"))
	require.NoError(t, err)
	return map[string]Ledger{"file": fl, "memory": NewMemory()}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			for i, typ := range []string{TypeAccountCreated, TypeProposalApproved, TypeAccountStatus} {
				_, err := l.Append(ctx, Activity{OwnerID: "viewer-1", Type: typ, Timestamp: base.Add(time.Duration(i) * time.Minute)})
				require.NoError(t, err)
			}
			_, err := l.Append(ctx, Activity{OwnerID: "viewer-2", Type: TypeAccountCreated, Timestamp: base})
			require.NoError(t, err)

			got, err := l.ListByOwner(ctx, "viewer-1", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, TypeAccountStatus, got[0].Type)
			assert.Equal(t, TypeProposalApproved, got[1].Type)
			assert.NotEmpty(t, got[0].ID)
		})
	}
}

func TestAppendOrderBreaksTimestampTies(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory()
	_, _ = l.Append(ctx, Activity{OwnerID: "v", Type: "first", Timestamp: ts})
	_, _ = l.Append(ctx, Activity{OwnerID: "v", Type: "second", Timestamp: ts})

	got, err := l.ListByOwner(ctx, "v", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", got[0].Type)
}

func TestFileLedgerSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activities.jsonl")
	l, err := NewFile(path)
	require.NoError(t, err)

	_, err = l.Append(context.Background(), Activity{OwnerID: "v", Type: TypeWarning})
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	f.Close()

	got, err := l.ListByOwner(context.Background(), "v", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMetaAccessors(t *testing.T) {
	m := Meta{}.
		Set(MetaAccountID, "acct-9").
		Set(MetaInitialStatus, "approved").
		Set(MetaTargetWeights, map[string]int{"AAA": 60}).
		Set(MetaTotalInvestment, 2500.5).
		Set(MetaTradesExecuted, true)

	assert.Equal(t, "acct-9", m.AccountID())
	assert.Equal(t, "APPROVED", m.Status())
	assert.True(t, allocation.Weights{{Symbol: "AAA", Weight: decimal.NewFromInt(60)}}.Equal(m.Weights()))
	amt, ok := m.TotalInvestment()
	assert.True(t, ok)
	assert.Equal(t, "2500.5", amt.String())
	assert.True(t, m.TradesExecuted())
	assert.True(t, Activity{Meta: m}.IsExecution())

	m = Meta{}.Set(MetaAccountStatus, "ACTIVE").Set(MetaInitialStatus, "SUBMITTED").Set(MetaTotalInvestment, "n/a")
	assert.Equal(t, "ACTIVE", m.Status())
	_, ok = m.TotalInvestment()
	assert.False(t, ok)
	assert.False(t, Activity{Type: TypeAccountStatus, Meta: m}.IsExecution())
	assert.True(t, Activity{Type: TypeTradeExecution}.IsExecution())
}

func TestPostgresLedger(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	l, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer l.Close()

	owner := "pg-test-" + time.Now().Format("150405.000000")
	_, err = l.Append(ctx, Activity{OwnerID: owner, Type: TypeAccountCreated, Meta: Meta{}.Set(MetaAccountID, "acct-pg")})
	require.NoError(t, err)

	got, err := l.ListByOwner(ctx, owner, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acct-pg", got[0].Meta.AccountID())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	l, closeFn, err := Open(ctx, "file", filepath.Join(t.TempDir(), "a.jsonl"), "")
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &FileLedger{}, l)

	l, _, err = Open(ctx, "memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryLedger{}, l)

	_, _, err = Open(ctx, "mongo", "", "")
	assert.Error(t, err)
}
