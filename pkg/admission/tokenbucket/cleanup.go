package tokenbucket

import (
	"context"
	"sort"
)

// runCleanup is the Limiter's recurring job: a staleness pass followed by a
// cap-enforcement pass, both cancellable at shard/entry granularity per §4.1.
func (l *Limiter[K]) runCleanup(ctx context.Context) {
	l.sweepStale(ctx)
	l.enforceCap(ctx)
}

func (l *Limiter[K]) sweepStale(ctx context.Context) {
	now := nowTicks()
	visited := 0

	for _, sh := range l.shards {
		if ctx.Err() != nil {
			return
		}

		sh.m.Range(func(k, v any) bool {
			visited++
			if visited%256 == 0 && ctx.Err() != nil {
				return false
			}

			st := v.(*endpointState)
			st.gate.Lock()
			lastSeen := st.lastSeenTicks
			st.gate.Unlock()

			if now-lastSeen > l.staleTicks {
				if sh.m.CompareAndDelete(k, v) {
					l.totalEndpoints.Add(-1)
				}
			}
			return true
		})
	}
}

func (l *Limiter[K]) enforceCap(ctx context.Context) {
	max := int64(l.opts.MaxTrackedEndpoints)
	if max <= 0 {
		return
	}
	total := l.totalEndpoints.Load()
	if total <= max {
		return
	}

	rows := l.entryPool.Rent(int(total))
	defer func() { l.entryPool.Return(rows, true) }()

	for _, sh := range l.shards {
		if ctx.Err() != nil {
			return
		}
		sh.m.Range(func(k, v any) bool {
			st := v.(*endpointState)
			st.gate.Lock()
			lastSeen := st.lastSeenTicks
			st.gate.Unlock()
			rows = append(rows, reportRow[K]{key: k.(K), state: st, lastSeen: lastSeen})
			return true
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].lastSeen < rows[j].lastSeen })

	excess := int64(len(rows)) - max
	for i := int64(0); i < excess && i < int64(len(rows)); i++ {
		sh := l.shardFor(rows[i].key)
		if sh.m.CompareAndDelete(rows[i].key, rows[i].state) {
			l.totalEndpoints.Add(-1)
		}
	}
}
