package client

import (
	"path/filepath"
	"testing"
	"time"

	"orderlive/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")

	store := NewOfflineStore(path, 10, time.Hour)
	store.RememberOrder(protocol.OrderUpdate{
		OrderID:   "o1",
		Status:    "shipped",
		Amount:    42.5,
		Timestamp: time.Now(),
	})
	store.RememberNotification(protocol.Notification{
		ID:      "n1",
		Title:   "Order Shipped",
		Message: "Order o1 was shipped",
		Type:    "info",
	})
	require.NoError(t, store.Save())

	reloaded := NewOfflineStore(path, 10, time.Hour)
	require.NoError(t, reloaded.Load())

	order, ok := reloaded.Order("o1")
	require.True(t, ok)
	assert.Equal(t, "shipped", order.Status)
	assert.Equal(t, 42.5, order.Amount)

	notifications := reloaded.RecentNotifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "Order Shipped", notifications[0].Title)
}

func TestOfflineStore_LoadMissingFileIsNotAnError(t *testing.T) {
	store := NewOfflineStore(filepath.Join(t.TempDir(), "absent.json"), 10, time.Hour)
	assert.NoError(t, store.Load())
	assert.Empty(t, store.RecentUpdates())
}

func TestOfflineStore_ExpiredOrdersDroppedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.json")

	store := NewOfflineStore(path, 10, 10*time.Millisecond)
	store.RememberOrder(protocol.OrderUpdate{OrderID: "o1", Status: "pending"})
	require.NoError(t, store.Save())

	time.Sleep(20 * time.Millisecond)

	reloaded := NewOfflineStore(path, 10, 10*time.Millisecond)
	require.NoError(t, reloaded.Load())
	_, ok := reloaded.Order("o1")
	assert.False(t, ok, "snapshot entries expire on their original deadline")
}

func TestOfflineStore_RecentUpdatesMostRecentFirst(t *testing.T) {
	store := NewOfflineStore(filepath.Join(t.TempDir(), "offline.json"), 10, time.Hour)

	base := time.Now()
	for i, id := range []string{"o1", "o2", "o3"} {
		store.RememberOrder(protocol.OrderUpdate{
			OrderID:   id,
			Status:    "processing",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	updates := store.RecentUpdates()
	require.Len(t, updates, 3)
	assert.Equal(t, "o3", updates[0].OrderID)
	assert.Equal(t, "o1", updates[2].OrderID)
}

func TestOfflineStore_BindBuffersBeforeUserHandler(t *testing.T) {
	store := NewOfflineStore(filepath.Join(t.TempDir(), "offline.json"), 10, time.Hour)

	var seenInHandler bool
	handlers := store.Bind(Handlers{
		OnOrderUpdate: func(u protocol.OrderUpdate) {
			_, seenInHandler = store.Order(u.OrderID)
		},
	})

	handlers.OnOrderUpdate(protocol.OrderUpdate{OrderID: "o1", Status: "pending", Timestamp: time.Now()})
	assert.True(t, seenInHandler, "the store sees the update before the user handler runs")

	handlers = store.Bind(Handlers{})
	handlers.OnBulkOrderUpdate([]protocol.OrderUpdate{
		{OrderID: "o2", Timestamp: time.Now()},
		{OrderID: "o3", Timestamp: time.Now()},
	})
	_, ok2 := store.Order("o2")
	_, ok3 := store.Order("o3")
	assert.True(t, ok2)
	assert.True(t, ok3)
}
