package connlimiter

import "time"

// Info is the immutable connection-count record for one address
// (ConnectionLimitInfo); updates replace the whole record via CAS.
type Info struct {
	Current           int32
	LastConnectionUTC time.Time
	TotalToday        int32
}

var epoch = time.Unix(0, 0).UTC()

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
