package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// ScanLog writes scan entries on its own goroutine so callers on the key
// path never wait for the disk. When the queue is full new entries are
// dropped and counted.
type ScanLog struct {
	store *Store
	log   *slog.Logger

	queue   chan ScanEntry
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewScanLog starts a writer with room for size queued entries. A nil
// logger uses slog.Default.
func NewScanLog(st *Store, size int, logger *slog.Logger) *ScanLog {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &ScanLog{
		store: st,
		log:   logger.With(slog.String("component", "scanlog")),
		queue: make(chan ScanEntry, size),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues e and returns immediately. It reports false when the entry
// was dropped. Record must not be called after Close.
func (l *ScanLog) Record(e ScanEntry) bool {
	select {
	case l.queue <- e:
		return true
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.log.Warn("scan log queue full, entry dropped", "dropped", n)
		}
		return false
	}
}

// Dropped returns how many entries were discarded.
func (l *ScanLog) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *ScanLog) run() {
	defer close(l.done)
	for e := range l.queue {
		if _, err := l.store.InsertScan(&e); err != nil {
			l.log.Warn("record scan", "error", err)
		}
	}
}

// Close writes the queued entries and stops the writer.
func (l *ScanLog) Close() {
	l.once.Do(func() { close(l.queue) })
	<-l.done
}
