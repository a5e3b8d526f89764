package querylog

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/miekg/dns"
	"github.com/thenaterhood/spudproxy/models"
)

type bigQueryLog struct {
	cache  *bigcache.BigCache
	last   atomic.Pointer[Entry]
	mu     sync.Mutex
	config QueryLogConfig
}

func (q *bigQueryLog) Record(exchange models.DnsExchange) error {
	key := getEntryKey(exchange)

	// Read-modify-write on the aggregated count.
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{}
	raw, err := q.cache.Get(key)
	if err == nil {
		if err := json.Unmarshal(raw, &entry); err != nil {
			q.config.Logger.Debug("discarding unreadable query log entry", "key", key, "err", err)
			entry = Entry{}
		}
	} else if err != bigcache.ErrEntryNotFound {
		return err
	}

	if entry.LastSeen.Before(time.Now().Add(-q.config.Window)) {
		entry.Count = 0
	}

	entry.Name = exchange.Question.Name
	entry.Qtype = dns.Type(exchange.Question.Qtype).String()
	entry.Client = exchange.Client
	entry.Outcome = exchange.Outcome
	entry.Count += 1
	entry.LastSeen = exchange.Time

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	last := entry
	q.last.Store(&last)

	return q.cache.Set(key, value)
}

// Recent returns every entry seen within the window, newest first.
func (q *bigQueryLog) Recent() ([]Entry, error) {
	cutoff := time.Now().Add(-q.config.Window)
	entries := []Entry{}

	iterator := q.cache.Iterator()
	for iterator.SetNext() {
		info, err := iterator.Value()
		if err != nil {
			return nil, err
		}

		var entry Entry
		if err := json.Unmarshal(info.Value(), &entry); err != nil {
			continue
		}

		// bigcache evicts lazily; skip what has already aged out.
		if entry.LastSeen.Before(cutoff) {
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return b.LastSeen.Compare(a.LastSeen)
	})

	return entries, nil
}

func (q *bigQueryLog) Last() (Entry, bool) {
	last := q.last.Load()
	if last == nil {
		return Entry{}, false
	}
	return *last, true
}

func (q *bigQueryLog) Close() error {
	return q.cache.Close()
}

func newBigQueryLog(config QueryLogConfig) (*bigQueryLog, error) {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cacheConfig := bigcache.DefaultConfig(config.Window)
	cacheConfig.CleanWindow = config.Window / 2
	// Sized for small devices; HardMaxCacheSize is in megabytes.
	cacheConfig.Shards = 64
	cacheConfig.MaxEntriesInWindow = 1024
	cacheConfig.MaxEntrySize = 256
	cacheConfig.HardMaxCacheSize = 8

	cache, err := bigcache.New(context.Background(), cacheConfig)
	if err != nil {
		return nil, err
	}

	return &bigQueryLog{cache: cache, config: config}, nil
}
