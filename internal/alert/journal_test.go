package alert

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "qtrader/pkg/errors"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_SendAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Send(ctx, AlertPayload{
			Rule:      RulePositionLoss,
			Level:     Warning,
			Title:     "Position Loss",
			Message:   "test",
			AccountID: "ACC1",
			Symbol:    "AAPL",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]string{"n": string(rune('a' + i))},
		}))
	}

	alerts, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	// Newest first
	assert.True(t, alerts[0].Timestamp.After(alerts[1].Timestamp))
	assert.Equal(t, RulePositionLoss, alerts[0].Rule)
	assert.Equal(t, Warning, alerts[0].Level)
	assert.Equal(t, "ACC1", alerts[0].AccountID)
	assert.Equal(t, map[string]string{"n": "c"}, alerts[0].Fields)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.db")
	ctx := context.Background()

	j, err := NewJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Send(ctx, AlertPayload{
		Rule: RuleStaleQuote, Level: Warning, Title: "Stale", Message: "m",
		Symbol: "OLD", Timestamp: time.Now(),
	}))
	require.NoError(t, j.Close())

	j2, err := NewJournal(path)
	require.NoError(t, err)
	defer j2.Close()

	alerts, err := j2.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "OLD", alerts[0].Symbol)
}

func TestJournal_ClosedRejectsOperations(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Close())

	err := j.Send(context.Background(), AlertPayload{Rule: RuleHighIV, Timestamp: time.Now()})
	assert.ErrorIs(t, err, apperrors.ErrJournalClosed)

	_, err = j.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, apperrors.ErrJournalClosed)
}
