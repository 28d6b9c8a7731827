package policylimiter

// Policy is the immutable (rps, burst) pair used as the registry key, always
// holding a quantized tier rather than a raw declared value.
type Policy struct {
	RPS   int32
	Burst int32
}

// rpsTiers and burstTiers are the predefined quantization ladders from §3;
// burst tops out one tier lower than rps since burst sizes a bucket's
// capacity while rps sizes its refill rate.
var rpsTiers = []int32{1, 2, 4, 8, 16, 32, 64, 128, 256, 512}
var burstTiers = []int32{1, 2, 4, 8, 16, 32, 64, 128, 256}

func quantizeUp(v int32, tiers []int32) int32 {
	for _, t := range tiers {
		if v <= t {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// QuantizePolicy maps a declared (rps, burst) to its tier, capped at the top
// tier. Idempotent: QuantizePolicy(QuantizePolicy(x)) == QuantizePolicy(x).
func QuantizePolicy(rps, burst int32) Policy {
	return Policy{RPS: quantizeUp(rps, rpsTiers), Burst: quantizeUp(burst, burstTiers)}
}

func l1Distance(a, b Policy) int64 {
	dr := int64(a.RPS) - int64(b.RPS)
	if dr < 0 {
		dr = -dr
	}
	db := int64(a.Burst) - int64(b.Burst)
	if db < 0 {
		db = -db
	}
	return dr + db
}
