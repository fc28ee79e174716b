package handler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"tg-guardian/internal/logger"
)

var (
	totalMessagesProcessed int64
	totalEdits             int64
	totalChatMemberUpdates int64
	totalCallbackQueries   int64
	totalCommands          int64
	totalDropped           int64
	startTime              = time.Now()
)

func incrementCounter(counter *int64) {
	atomic.AddInt64(counter, 1)
}

// ProcessingStats is a snapshot of update counters and runtime figures.
type ProcessingStats struct {
	Uptime        time.Duration
	Messages      int64
	Edits         int64
	MemberUpdates int64
	Callbacks     int64
	Commands      int64
	Dropped       int64
	MemoryMB      uint64
	Goroutines    int
	GCRuns        uint32
}

func GetProcessingStats() ProcessingStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProcessingStats{
		Uptime:        time.Since(startTime),
		Messages:      atomic.LoadInt64(&totalMessagesProcessed),
		Edits:         atomic.LoadInt64(&totalEdits),
		MemberUpdates: atomic.LoadInt64(&totalChatMemberUpdates),
		Callbacks:     atomic.LoadInt64(&totalCallbackQueries),
		Commands:      atomic.LoadInt64(&totalCommands),
		Dropped:       atomic.LoadInt64(&totalDropped),
		MemoryMB:      m.Alloc / 1024 / 1024,
		Goroutines:    runtime.NumGoroutine(),
		GCRuns:        m.NumGC,
	}
}

// LogProcessingStats logs the counters every interval until ctx is done.
func LogProcessingStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := GetProcessingStats()
			logger.Infof("Processing stats: %+v", s)
			if s.Dropped > 0 {
				logger.Warningf("%d updates were dropped after shutdown began", s.Dropped)
			}
		}
	}
}

// GetDetailedStatus renders the stats for the debug endpoint.
func GetDetailedStatus() string {
	s := GetProcessingStats()
	return fmt.Sprintf(`=== TG-Guardian Processing Status ===
Uptime: %s
Messages Processed: %d
Edits: %d
Chat Member Updates: %d
Callback Queries: %d
Commands: %d
Dropped: %d
Memory Usage: %d MB
GC Runs: %d
Goroutines: %d
=====================================
`, s.Uptime.Truncate(time.Second), s.Messages, s.Edits, s.MemberUpdates, s.Callbacks,
		s.Commands, s.Dropped, s.MemoryMB, s.GCRuns, s.Goroutines)
}
