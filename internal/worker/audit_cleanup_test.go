package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository/memory"
)

func TestAuditCleanupDropsEntriesPastRetention(t *testing.T) {
	repo := memory.NewAuditRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.AuditLog{
			ActorID:    uuid.New(),
			Action:     model.AuditActionActivate,
			EntityType: "license",
			EntityID:   uuid.New(),
		}))
	}

	w := NewAuditCleanupWorker(repo, 30, time.Hour, nil)

	deleted, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, repo.Logs(), 3)

	w.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	deleted, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
	assert.Empty(t, repo.Logs())
}

func TestAuditCleanupDisabledReturnsImmediately(t *testing.T) {
	w := NewAuditCleanupWorker(memory.NewAuditRepository(), 0, time.Hour, nil)
	assert.False(t, w.Enabled())

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker did not return")
	}
}
