package tokenbucket

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// reportRow is a pooled snapshot of one tracked endpoint, shared by
// GenerateReport (top-N by pressure) and the cleanup job's cap-enforcement
// pass (oldest-by-last-seen).
type reportRow[K HashKey] struct {
	key         K
	state       *endpointState
	lastSeen    int64
	hardBlocked bool
	deficit     int64 // capacity_micro - clamp(micro_balance, 0, capacity_micro)
}

const reportTopN = 20

// GenerateReport produces a deterministic, human-readable diagnostic
// snapshot: a timestamp/config header, aggregate counters, and the top N
// endpoints by pressure (hard-blocked first, then by descending token
// deficit, then by key).
func (l *Limiter[K]) GenerateReport() string {
	rows := l.entryPool.Rent(reportTopN * 2)
	defer func() { l.entryPool.Return(rows, true) }()

	now := nowTicks()
	hardBlockedCount := 0

	for _, sh := range l.shards {
		sh.m.Range(func(k, v any) bool {
			st := v.(*endpointState)
			st.gate.Lock()
			balance := st.microBalance
			if balance < 0 {
				balance = 0
			}
			if balance > l.capacityMicro {
				balance = l.capacityMicro
			}
			hardBlocked := st.hardBlockedUntil > now
			lastSeen := st.lastSeenTicks
			st.gate.Unlock()

			if hardBlocked {
				hardBlockedCount++
			}
			rows = append(rows, reportRow[K]{
				key:         k.(K),
				state:       st,
				lastSeen:    lastSeen,
				hardBlocked: hardBlocked,
				deficit:     l.capacityMicro - balance,
			})
			return true
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].hardBlocked != rows[j].hardBlocked {
			return rows[i].hardBlocked
		}
		if rows[i].deficit != rows[j].deficit {
			return rows[i].deficit > rows[j].deficit
		}
		return fmt.Sprint(rows[i].key) < fmt.Sprint(rows[j].key)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "TokenBucketLimiter report @ %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "capacity=%d refill/s=%.4f scale=%d shards=%d max_tracked=%d\n",
		l.opts.CapacityTokens, l.opts.RefillTokensPerSecond, l.opts.TokenScale,
		l.opts.ShardCount, l.opts.MaxTrackedEndpoints)
	fmt.Fprintf(&b, "tracked=%d hard_blocked=%d\n", l.totalEndpoints.Load(), hardBlockedCount)
	b.WriteString(strings.Repeat("-", 72) + "\n")
	fmt.Fprintf(&b, "%-32s %-12s %-10s %s\n", "ENDPOINT", "STATE", "DEFICIT", "LAST_SEEN_AGO_MS")

	n := len(rows)
	if n > reportTopN {
		n = reportTopN
	}
	for i := 0; i < n; i++ {
		r := rows[i]
		state := "throttled"
		if r.hardBlocked {
			state = "hard_locked"
		} else if r.deficit == 0 {
			state = "allowing"
		}
		ageMs := (now - r.lastSeen) / (ticksPerSecond / 1000)
		fmt.Fprintf(&b, "%-32v %-12s %-10d %d\n", r.key, state, r.deficit, ageMs)
	}
	b.WriteString(strings.Repeat("-", 72) + "\n")

	return b.String()
}
