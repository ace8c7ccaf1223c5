package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	d, err := f.svc.RegisterDevice(ctx, "staff-a", domain.RegisterDeviceRequest{Token: " tok-1 ", Platform: domain.PlatformIOS})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", d.Token)

	_, err = f.svc.RegisterDevice(ctx, "staff-b", domain.RegisterDeviceRequest{Token: "tok-1", Platform: domain.PlatformIOS})
	require.NoError(t, err)

	a, _ := f.svc.ListDevices(ctx, "staff-a")
	b, _ := f.svc.ListDevices(ctx, "staff-b")
	assert.Empty(t, a, "the token moved to its new owner")
	assert.Len(t, b, 1)

	_, err = f.svc.RegisterDevice(ctx, " ", domain.RegisterDeviceRequest{Token: "tok-2", Platform: domain.PlatformIOS})
	assert.ErrorIs(t, err, domain.ErrInvalidStaffID)
	_, err = f.svc.RegisterDevice(ctx, "staff-a", domain.RegisterDeviceRequest{Token: "tok-2", Platform: "blackberry"})
	assert.ErrorIs(t, err, domain.ErrInvalidPlatform)
}

func TestUnregisterDevice(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	_, err := f.svc.RegisterDevice(ctx, "staff-a", domain.RegisterDeviceRequest{Token: "tok-1", Platform: domain.PlatformAndroid})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.UnregisterDevice(ctx, "staff-b", "tok-1"), domain.ErrNotFound, "only the owner can remove a token")
	require.NoError(t, f.svc.UnregisterDevice(ctx, "staff-a", "tok-1"))
	assert.ErrorIs(t, f.svc.UnregisterDevice(ctx, "staff-a", "tok-1"), domain.ErrNotFound)
}

func seedInbox(t *testing.T, f *fixture, staffID string, n int) []string {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		item, _, err := f.inbox.Insert(context.Background(), &domain.InboxItem{
			ID:             staffID + "-item-" + string(rune('a'+i)),
			StaffID:        staffID,
			NotificationID: staffID + "-n-" + string(rune('a'+i)),
			JobID:          "job-1",
			EventType:      domain.EventJobUpdated,
			Title:          "Update",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids[i] = item.ID
	}
	return ids
}

func TestInbox_ReadFlow(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	ids := seedInbox(t, f, "staff-a", 3)
	seedInbox(t, f, "staff-b", 1)

	items, err := f.svc.ListInbox(ctx, "staff-a", false, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, ids[2], items[0].ID, "newest first")

	require.NoError(t, f.svc.MarkRead(ctx, "staff-a", ids[0]))
	assert.ErrorIs(t, f.svc.MarkRead(ctx, "staff-b", ids[1]), domain.ErrNotFound)

	unread, err := f.svc.ListInbox(ctx, "staff-a", true, 10)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err := f.svc.MarkAllRead(ctx, "staff-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	unread, err = f.svc.ListInbox(ctx, "staff-a", true, 10)
	require.NoError(t, err)
	assert.NotNil(t, unread)
	assert.Empty(t, unread)

	other, _ := f.svc.ListInbox(ctx, "staff-b", true, 10)
	assert.Len(t, other, 1)
}
