package live

import (
	"sync/atomic"
	"time"

	"mediasyndicate/internal/domain"
)

// SnapshotEntry — позиция и рейтинг статьи в момент снимка.
type SnapshotEntry struct {
	Position int
	Rating   float64
}

// Snapshot — состояние рейтинга периода на момент последнего обновления.
// После публикации в SnapshotCache не изменяется.
type Snapshot struct {
	TakenAt time.Time
	Entries map[string]SnapshotEntry
}

// Captured сообщает, был ли снимок когда-либо сделан.
func (s *Snapshot) Captured() bool {
	return s != nil && !s.TakenAt.IsZero()
}

// NewSnapshot строит снимок из упорядоченного списка статей.
func NewSnapshot(takenAt time.Time, ordered []domain.Article) *Snapshot {
	entries := make(map[string]SnapshotEntry, len(ordered))
	for i, a := range ordered {
		entries[a.ID] = SnapshotEntry{Position: i + 1, Rating: a.Rating}
	}
	return &Snapshot{TakenAt: takenAt, Entries: entries}
}

var emptySnapshot = &Snapshot{Entries: map[string]SnapshotEntry{}}

// SnapshotCache хранит по снимку на период. Снимок заменяется целиком по ссылке,
// поэтому читатель никогда не видит частично обновлённую карту.
type SnapshotCache struct {
	slots map[domain.Period]*atomic.Pointer[Snapshot]
}

// NewSnapshotCache создаёт пустые снимки для всех периодов.
func NewSnapshotCache() *SnapshotCache {
	c := &SnapshotCache{slots: make(map[domain.Period]*atomic.Pointer[Snapshot])}
	for _, p := range domain.Periods() {
		slot := &atomic.Pointer[Snapshot]{}
		slot.Store(emptySnapshot)
		c.slots[p] = slot
	}
	return c
}

// Load возвращает текущий снимок периода; для неизвестного периода — пустой.
func (c *SnapshotCache) Load(p domain.Period) *Snapshot {
	slot, ok := c.slots[p]
	if !ok {
		return emptySnapshot
	}
	return slot.Load()
}

// Store публикует новый снимок периода.
func (c *SnapshotCache) Store(p domain.Period, snap *Snapshot) bool {
	slot, ok := c.slots[p]
	if !ok || snap == nil {
		return false
	}
	slot.Store(snap)
	return true
}
