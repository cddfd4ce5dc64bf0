package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joshp123/robofleet/internal/kv"
)

const (
	KeyNotifications = "notifications"
	KeySettings      = "notification_settings"

	DefaultBatteryThreshold = 20
)

var (
	ErrNotFound        = errors.New("notification not found")
	ErrRequestNotFound = errors.New("access request not found")
)

type Options struct {
	Logger *slog.Logger
	// BatteryThreshold is the level at or below which BatteryLow fires.
	BatteryThreshold int
	Now              func() time.Time
}

// MergeStats counts what Merge did with a server batch.
type MergeStats struct {
	Added    int
	Updated  int
	Disabled int
}

// ClearResult reports the outcome of ClearAll per entry.
type ClearResult struct {
	Removed int
	Failed  []ID
	Errors  []error
}

func (r ClearResult) OK() bool { return len(r.Failed) == 0 }

func (r ClearResult) Err() error { return errors.Join(r.Errors...) }

// Aggregator owns the notification list shown to the user. The list is
// newest first; the KV cache is a best-effort copy, never the source of truth.
type Aggregator struct {
	api       API
	cache     kv.Store
	log       *slog.Logger
	threshold int
	now       func() time.Time

	mu       sync.Mutex
	items    []Notification
	settings Settings
	pending  []AccessRequest
}

func NewAggregator(api API, cache kv.Store, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	threshold := opts.BatteryThreshold
	if threshold <= 0 {
		threshold = DefaultBatteryThreshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		api:       api,
		cache:     cache,
		log:       logger,
		threshold: threshold,
		now:       now,
		settings:  DefaultSettings(),
	}
}

// Load restores the list and settings from the cache. Missing or corrupt
// entries are logged and skipped.
func (a *Aggregator) Load(ctx context.Context) {
	if a.cache == nil {
		return
	}
	var items []Notification
	if a.read(ctx, KeyNotifications, &items) {
		a.mu.Lock()
		a.items = dedupe(items)
		a.updateUnreadLocked()
		a.mu.Unlock()
	}
	var settings Settings
	if a.read(ctx, KeySettings, &settings) {
		if settings.Enabled == nil {
			settings = DefaultSettings()
		}
		a.mu.Lock()
		a.settings = settings
		a.mu.Unlock()
	}
}

func (a *Aggregator) List() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Notification(nil), a.items...)
}

func (a *Aggregator) Unread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return countUnread(a.items)
}

func (a *Aggregator) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.clone()
}

func (a *Aggregator) SetSettings(ctx context.Context, s Settings) {
	if s.Enabled == nil {
		s = DefaultSettings()
	}
	a.mu.Lock()
	a.settings = s.clone()
	a.mu.Unlock()
	a.write(ctx, KeySettings, s)
}

// Merge folds a server batch into the list. Unknown ids are prepended when
// their type is enabled, known ids only take the read flag.
func (a *Aggregator) Merge(ctx context.Context, incoming []Notification) MergeStats {
	var stats MergeStats
	a.mu.Lock()
	index := make(map[ID]int, len(a.items))
	for i, n := range a.items {
		index[n.ID] = i
	}
	var fresh []Notification
	for _, n := range incoming {
		if n.ID.IsZero() {
			continue
		}
		if i, ok := index[n.ID]; ok {
			if i >= 0 && a.items[i].Read != n.Read {
				a.items[i].Read = n.Read
				stats.Updated++
			}
			continue
		}
		if !a.settings.Allows(n.Type) {
			stats.Disabled++
			continue
		}
		index[n.ID] = -1
		fresh = append(fresh, n)
		stats.Added++
	}
	if len(fresh) > 0 {
		// The server lists newest first; keep its order ahead of what we had.
		a.items = append(fresh, a.items...)
	}
	a.updateUnreadLocked()
	a.mu.Unlock()

	notificationsMerged.WithLabelValues("added").Add(float64(stats.Added))
	notificationsMerged.WithLabelValues("updated").Add(float64(stats.Updated))
	notificationsMerged.WithLabelValues("disabled").Add(float64(stats.Disabled))
	if stats.Added > 0 || stats.Updated > 0 {
		a.persist(ctx)
	}
	return stats
}

// Sync fetches the server list and merges it.
func (a *Aggregator) Sync(ctx context.Context) (MergeStats, error) {
	incoming, err := a.api.Notifications(ctx)
	if err != nil {
		return MergeStats{}, fmt.Errorf("fetch notifications: %w", err)
	}
	return a.Merge(ctx, incoming), nil
}

// Refresh replaces every remote entry with the server list. Local-only
// entries survive since the server has never seen them.
func (a *Aggregator) Refresh(ctx context.Context) error {
	incoming, err := a.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}
	a.mu.Lock()
	next := make([]Notification, 0, len(incoming)+len(a.items))
	for _, n := range dedupe(incoming) {
		if n.ID.IsRemote() && a.settings.Allows(n.Type) {
			next = append(next, n)
		}
	}
	for _, n := range a.items {
		if n.ID.IsLocal() {
			next = append(next, n)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Timestamp.After(next[j].Timestamp)
	})
	a.items = next
	a.updateUnreadLocked()
	a.mu.Unlock()
	a.persist(ctx)
	return nil
}

// Add inserts a locally triggered notification. While an unread entry with
// the same type and robot exists, that entry is returned and nothing is added.
func (a *Aggregator) Add(ctx context.Context, n Notification) (Notification, bool) {
	a.mu.Lock()
	for _, existing := range a.items {
		if !existing.Read && existing.Type == n.Type && existing.RobotID == n.RobotID {
			a.mu.Unlock()
			notificationsTriggered.WithLabelValues(string(n.Type), "deduplicated").Inc()
			return existing, false
		}
	}
	if !a.settings.Allows(n.Type) {
		a.mu.Unlock()
		notificationsTriggered.WithLabelValues(string(n.Type), "disabled").Inc()
		return n, false
	}
	if n.ID.IsZero() {
		n.ID = NewLocalID()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = a.now()
	}
	a.items = append([]Notification{n}, a.items...)
	a.updateUnreadLocked()
	a.mu.Unlock()

	notificationsTriggered.WithLabelValues(string(n.Type), "created").Inc()
	a.persist(ctx)
	return n, true
}

// BatteryLow raises a battery notification when level is at or below the threshold.
func (a *Aggregator) BatteryLow(ctx context.Context, robotID, robotName string, level float64) (Notification, bool) {
	if robotID == "" || level > float64(a.threshold) {
		return Notification{}, false
	}
	name := robotName
	if name == "" {
		name = robotID
	}
	return a.Add(ctx, Notification{
		Type:    TypeBatteryLow,
		Title:   "Battery low",
		Message: fmt.Sprintf("%s is at %.0f%% battery", name, level),
		RobotID: robotID,
		Data:    map[string]any{"battery_level": level},
	})
}

func (a *Aggregator) MarkRead(ctx context.Context, id ID) error {
	if !a.contains(id) {
		return ErrNotFound
	}
	if remote, ok := id.Remote(); ok {
		if err := a.api.MarkNotificationRead(ctx, remote); err != nil {
			return fmt.Errorf("mark notification %d read: %w", remote, err)
		}
	}
	a.mu.Lock()
	for i := range a.items {
		if a.items[i].ID == id {
			a.items[i].Read = true
		}
	}
	a.updateUnreadLocked()
	a.mu.Unlock()
	a.persist(ctx)
	return nil
}

func (a *Aggregator) Delete(ctx context.Context, id ID) error {
	if !a.contains(id) {
		return ErrNotFound
	}
	if remote, ok := id.Remote(); ok {
		if err := a.api.DeleteNotification(ctx, remote); err != nil {
			return fmt.Errorf("delete notification %d: %w", remote, err)
		}
	}
	a.mu.Lock()
	a.removeLocked(id)
	a.mu.Unlock()
	a.persist(ctx)
	return nil
}

// ClearAll deletes every entry. Entries the backend refuses stay in the list
// and are reported in the result.
func (a *Aggregator) ClearAll(ctx context.Context) ClearResult {
	var result ClearResult
	for _, n := range a.List() {
		if remote, ok := n.ID.Remote(); ok {
			if err := a.api.DeleteNotification(ctx, remote); err != nil {
				result.Failed = append(result.Failed, n.ID)
				result.Errors = append(result.Errors, fmt.Errorf("delete notification %d: %w", remote, err))
				continue
			}
		}
		a.mu.Lock()
		if a.removeLocked(n.ID) {
			result.Removed++
		}
		a.mu.Unlock()
	}
	if len(result.Failed) > 0 {
		a.log.Warn("clear notifications incomplete", "removed", result.Removed, "failed", len(result.Failed))
	}
	a.persist(ctx)
	return result
}

// AccessRequests fetches pending requests and joins each with its unread
// access_request notification by data.request_id.
func (a *Aggregator) AccessRequests(ctx context.Context) ([]PendingAccess, error) {
	requests, err := a.api.AccessRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch access requests: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append([]AccessRequest(nil), requests...)
	return a.joinLocked(), nil
}

// Pending returns the last fetched requests without calling the backend.
func (a *Aggregator) Pending() []PendingAccess {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joinLocked()
}

func (a *Aggregator) Approve(ctx context.Context, requestID int64) error {
	return a.resolve(ctx, requestID, "approve", a.api.ApproveAccess)
}

func (a *Aggregator) Deny(ctx context.Context, requestID int64) error {
	return a.resolve(ctx, requestID, "deny", a.api.DenyAccess)
}

func (a *Aggregator) resolve(ctx context.Context, requestID int64, op string, call func(context.Context, int64) error) error {
	if err := call(ctx, requestID); err != nil {
		return fmt.Errorf("%s access request %d: %w", op, requestID, err)
	}

	a.mu.Lock()
	kept := a.pending[:0]
	for _, r := range a.pending {
		if r.ID != requestID {
			kept = append(kept, r)
		}
	}
	a.pending = kept
	var matched []ID
	for _, n := range a.items {
		if n.Type != TypeAccessRequest || n.Read {
			continue
		}
		if id, ok := n.RequestID(); ok && id == requestID {
			matched = append(matched, n.ID)
		}
	}
	a.mu.Unlock()

	// The request is already resolved on the server; a failed read mark is cosmetic.
	for _, id := range matched {
		if err := a.MarkRead(ctx, id); err != nil {
			a.log.Warn("mark access notification read failed", "request_id", requestID, "notification_id", id.String(), "error", err)
		}
	}
	return nil
}

func (a *Aggregator) joinLocked() []PendingAccess {
	out := make([]PendingAccess, 0, len(a.pending))
	for _, r := range a.pending {
		entry := PendingAccess{Request: r}
		for i := range a.items {
			n := a.items[i]
			if n.Type != TypeAccessRequest || n.Read {
				continue
			}
			if id, ok := n.RequestID(); ok && id == r.ID {
				entry.Notification = &n
				break
			}
		}
		out = append(out, entry)
	}
	return out
}

func (a *Aggregator) contains(id ID) bool {
	if id.IsZero() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.items {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (a *Aggregator) removeLocked(id ID) bool {
	for i, n := range a.items {
		if n.ID == id {
			a.items = append(a.items[:i], a.items[i+1:]...)
			a.updateUnreadLocked()
			return true
		}
	}
	return false
}

func (a *Aggregator) updateUnreadLocked() {
	notificationsUnread.Set(float64(countUnread(a.items)))
}

func (a *Aggregator) persist(ctx context.Context) {
	a.mu.Lock()
	items := append([]Notification(nil), a.items...)
	a.mu.Unlock()
	a.write(ctx, KeyNotifications, items)
}

func (a *Aggregator) write(ctx context.Context, key string, value any) {
	if a.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		cacheWrites.WithLabelValues(key, "error").Inc()
		a.log.Warn("encode notification cache failed", "key", key, "error", err)
		return
	}
	if err := a.cache.Set(ctx, key, string(data)); err != nil {
		cacheWrites.WithLabelValues(key, "error").Inc()
		a.log.Warn("write notification cache failed", "key", key, "error", err)
		return
	}
	cacheWrites.WithLabelValues(key, "ok").Inc()
}

func (a *Aggregator) read(ctx context.Context, key string, out any) bool {
	raw, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			a.log.Warn("read notification cache failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		a.log.Warn("decode notification cache failed", "key", key, "error", err)
		return false
	}
	return true
}

func countUnread(items []Notification) int {
	count := 0
	for _, n := range items {
		if !n.Read {
			count++
		}
	}
	return count
}

func dedupe(items []Notification) []Notification {
	seen := make(map[ID]struct{}, len(items))
	out := make([]Notification, 0, len(items))
	for _, n := range items {
		if n.ID.IsZero() {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}
