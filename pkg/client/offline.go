package client

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"orderlive/pkg/cache"
	"orderlive/pkg/protocol"
)

const recentBufferCap = 100

// OfflineStore buffers recent order updates and notifications and keeps an
// order snapshot that survives process restarts via a JSON file. All three
// buffers are bounded expiring caches; entries whose TTL lapses while the
// process is down are dropped on load.
type OfflineStore struct {
	path string

	orders        *cache.Cache[protocol.OrderUpdate]
	updates       *cache.Cache[protocol.OrderUpdate]
	notifications *cache.Cache[protocol.Notification]
}

type offlineSnapshot struct {
	SavedAt       time.Time                                    `json:"saved_at"`
	Orders        []cache.SnapshotEntry[protocol.OrderUpdate]  `json:"orders"`
	Updates       []cache.SnapshotEntry[protocol.OrderUpdate]  `json:"updates"`
	Notifications []cache.SnapshotEntry[protocol.Notification] `json:"notifications"`
}

// NewOfflineStore builds a store persisting to path. TTL applies to the
// order snapshot; the recent-update and notification buffers keep the
// default five minutes.
func NewOfflineStore(path string, orderCapacity int, orderTTL time.Duration) *OfflineStore {
	return &OfflineStore{
		path:          path,
		orders:        cache.New[protocol.OrderUpdate](orderCapacity, orderTTL),
		updates:       cache.New[protocol.OrderUpdate](recentBufferCap, 0),
		notifications: cache.New[protocol.Notification](recentBufferCap, 0),
	}
}

// RememberOrder stores the latest known state of an order.
func (o *OfflineStore) RememberOrder(update protocol.OrderUpdate) {
	o.orders.Set(update.OrderID, update)
	o.updates.Set(update.OrderID+"@"+update.Timestamp.Format(time.RFC3339Nano), update)
}

// RememberNotification buffers a notification; the buffer caps at 100, the
// least recently seen entry is evicted first.
func (o *OfflineStore) RememberNotification(n protocol.Notification) {
	o.notifications.Set(n.ID, n)
}

// Order returns the cached state of an order, if still fresh.
func (o *OfflineStore) Order(orderID string) (protocol.OrderUpdate, bool) {
	return o.orders.Get(orderID)
}

// RecentUpdates returns buffered updates, most recent first.
func (o *OfflineStore) RecentUpdates() []protocol.OrderUpdate {
	keys := o.updates.Keys()
	out := make([]protocol.OrderUpdate, 0, len(keys))
	for _, key := range keys {
		if update, ok := o.updates.Get(key); ok {
			out = append(out, update)
		}
	}
	return out
}

// RecentNotifications returns buffered notifications, most recent first.
func (o *OfflineStore) RecentNotifications() []protocol.Notification {
	keys := o.notifications.Keys()
	out := make([]protocol.Notification, 0, len(keys))
	for _, key := range keys {
		if n, ok := o.notifications.Get(key); ok {
			out = append(out, n)
		}
	}
	return out
}

// Save writes all live entries to disk.
func (o *OfflineStore) Save() error {
	snap := offlineSnapshot{
		SavedAt:       time.Now(),
		Orders:        o.orders.Snapshot(),
		Updates:       o.updates.Snapshot(),
		Notifications: o.notifications.Snapshot(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal offline snapshot: %w", err)
	}
	if err := os.WriteFile(o.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write offline snapshot: %w", err)
	}
	return nil
}

// Load restores entries whose expiry is still in the future. A missing file
// is not an error.
func (o *OfflineStore) Load() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read offline snapshot: %w", err)
	}

	var snap offlineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse offline snapshot: %w", err)
	}
	o.orders.Restore(snap.Orders)
	o.updates.Restore(snap.Updates)
	o.notifications.Restore(snap.Notifications)
	return nil
}

// Bind wires a subscriber's handlers through the store so every received
// update and notification is buffered before the caller's handler runs.
func (o *OfflineStore) Bind(handlers Handlers) Handlers {
	userOrder := handlers.OnOrderUpdate
	handlers.OnOrderUpdate = func(update protocol.OrderUpdate) {
		o.RememberOrder(update)
		if userOrder != nil {
			userOrder(update)
		}
	}

	userBulk := handlers.OnBulkOrderUpdate
	handlers.OnBulkOrderUpdate = func(updates []protocol.OrderUpdate) {
		for _, update := range updates {
			o.RememberOrder(update)
		}
		if userBulk != nil {
			userBulk(updates)
		}
	}

	userNotification := handlers.OnNotification
	handlers.OnNotification = func(n protocol.Notification) {
		o.RememberNotification(n)
		if userNotification != nil {
			userNotification(n)
		}
	}

	return handlers
}
