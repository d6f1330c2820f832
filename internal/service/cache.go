// ListingCache — LRU-кэш списков файлов по владельцам с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Каждый владелец имеет счётчик поколений: Invalidate увеличивает его,
// а Store сохраняет список только если поколение не изменилось с момента
// чтения. Так список, прочитанный до Upload/Delete, не попадёт в кэш после них.
//
// Кэш локален для процесса: инвалидация не видна другим экземплярам консоли.
// Поэтому при TTL <= 0 (значение по умолчанию) кэш отключён, и List всегда
// читает метаданные. Включать кэш допустимо только при одном экземпляре.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/firestream-console/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	listCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_list_cache_hits_total",
		Help: "Общее количество попаданий в кэш списков файлов.",
	})
	listCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_list_cache_misses_total",
		Help: "Общее количество промахов кэша списков файлов.",
	})
)

// ListingCache — кэш списков файлов, ключ — ID владельца.
// Отключённый кэш (cache == nil) всегда даёт промах и ничего не хранит.
type ListingCache struct {
	mu          sync.Mutex
	cache       *expirable.LRU[string, []*model.FileRecord]
	generations map[string]uint64
}

// NewListingCache создаёт кэш с указанным максимальным числом владельцев и TTL.
// При ttl <= 0 кэш отключён.
func NewListingCache(maxSize int, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		return &ListingCache{}
	}
	return &ListingCache{
		cache:       expirable.NewLRU[string, []*model.FileRecord](maxSize, nil, ttl),
		generations: make(map[string]uint64),
	}
}

// Get возвращает список файлов владельца и текущее поколение.
// При промахе поколение нужно передать в Store вместе с прочитанным списком.
func (c *ListingCache) Get(ownerID string) ([]*model.FileRecord, uint64, bool) {
	if !c.Enabled() {
		return nil, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[ownerID]
	if list, ok := c.cache.Get(ownerID); ok {
		listCacheHitsTotal.Inc()
		return list, gen, true
	}
	listCacheMissesTotal.Inc()
	return nil, gen, false
}

// Store сохраняет список, если с момента Get не было инвалидации.
func (c *ListingCache) Store(ownerID string, gen uint64, list []*model.FileRecord) bool {
	if !c.Enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[ownerID] != gen {
		return false
	}
	c.cache.Add(ownerID, list)
	return true
}

// Invalidate удаляет список владельца и сдвигает его поколение.
func (c *ListingCache) Invalidate(ownerID string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[ownerID]++
	c.cache.Remove(ownerID)
}

// Len возвращает количество владельцев в кэше.
func (c *ListingCache) Len() int {
	if !c.Enabled() {
		return 0
	}
	return c.cache.Len()
}

// Enabled сообщает, включён ли кэш.
func (c *ListingCache) Enabled() bool {
	return c.cache != nil
}
