package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

func TestMockTransition_OnlyFromExpectedStates(t *testing.T) {
	ctx := context.Background()
	repo := NewMockNotificationRepository()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateDispatch(ctx, &domain.Dispatch{ID: "d-1", CreatedAt: now},
		[]*domain.Notification{{ID: "n-1", DispatchID: "d-1", Status: domain.StatusQueued, CreatedAt: now}}))

	require.NoError(t, repo.Transition(ctx, "n-1", domain.StatusProcessing, domain.StatusQueued, domain.StatusPending))

	err := repo.Transition(ctx, "n-1", domain.StatusProcessing, domain.StatusQueued)
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = repo.Transition(ctx, "missing", domain.StatusQueued, domain.StatusFailed)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.GetByID(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}
