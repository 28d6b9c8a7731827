package policylimiter

import (
	"fmt"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
)

// CompositeEndpointKey identifies one (opcode, endpoint) pair inside a
// TokenBucketLimiter shared by every pair quantized to the same Policy.
type CompositeEndpointKey struct {
	Opcode   uint16
	Endpoint endpoint.Endpoint
}

// HashCode combines the opcode and the endpoint's own hash; the avalanche
// mixing that follows (in tokenbucket.shardFor) is what spreads this value
// across shards, so a simple multiply-and-xor combine here is sufficient.
func (k CompositeEndpointKey) HashCode() uint32 {
	h := uint32(k.Opcode)*2654435761 + 1
	return h ^ k.Endpoint.HashCode()
}

func (k CompositeEndpointKey) String() string {
	return fmt.Sprintf("%d/%s", k.Opcode, k.Endpoint.String())
}
