package concurrencygate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type gateRow struct {
	opcode   uint16
	active   int32
	queued   int32
	capacity int32
	lastUsed int64
}

const reportTopN = 20

// GenerateReport produces a deterministic diagnostic snapshot: a timestamp
// header, the reclamation configuration, aggregate counters, and the top N
// opcodes by load (active+queued descending, then opcode ascending).
func (g *Gate) GenerateReport() string {
	var rows []gateRow

	g.table.Range(func(k, v any) bool {
		e := v.(*entry)
		rows = append(rows, gateRow{
			opcode:   k.(uint16),
			active:   e.activeUsers.Load(),
			queued:   e.queueCount.Load(),
			capacity: e.capacity,
			lastUsed: e.lastUsed.Load(),
		})
		return true
	})

	sort.Slice(rows, func(i, j int) bool {
		li := rows[i].active + rows[i].queued
		lj := rows[j].active + rows[j].queued
		if li != lj {
			return li > lj
		}
		return rows[i].opcode < rows[j].opcode
	})

	m := g.Metrics()
	now := time.Now().Unix()

	var b strings.Builder
	fmt.Fprintf(&b, "ConcurrencyGate report @ %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "idle_reclaim_interval_s=%d min_idle_age_s=%d\n",
		g.opts.IdleReclaimIntervalSeconds, g.opts.MinIdleAgeSeconds)
	fmt.Fprintf(&b, "acquired=%d rejected=%d queued=%d cleaned_entries=%d\n",
		m.TotalAcquired, m.TotalRejected, m.TotalQueued, m.TotalCleanedEntry)
	b.WriteString(strings.Repeat("-", 64) + "\n")
	fmt.Fprintf(&b, "%-8s %-8s %-8s %-10s %s\n", "OPCODE", "ACTIVE", "QUEUED", "CAPACITY", "IDLE_SECONDS")

	n := len(rows)
	if n > reportTopN {
		n = reportTopN
	}
	for i := 0; i < n; i++ {
		r := rows[i]
		fmt.Fprintf(&b, "%-8d %-8d %-8d %-10d %d\n", r.opcode, r.active, r.queued, r.capacity, now-r.lastUsed)
	}
	b.WriteString(strings.Repeat("-", 64) + "\n")

	return b.String()
}
