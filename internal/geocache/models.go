package geocache

import (
	"encoding/json"
	"time"
)

// Entry is a single cached provider response
type Entry struct {
	Key       string                 `json:"key"`
	Provider  string                 `json:"provider"`
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params"`
	Data      json.RawMessage        `json:"data"`
	ExpiresAt time.Time              `json:"expires_at"`
	HitCount  int                    `json:"hit_count"`
	CreatedAt time.Time              `json:"created_at"`
}

// Stats summarizes cache state and in-process lookup counters
type Stats struct {
	TotalEntries   int64            `json:"total_entries"`
	ExpiredEntries int64            `json:"expired_entries"`
	ByOperation    map[string]int64 `json:"by_operation"`
	Hits           int64            `json:"hits"`
	SemanticHits   int64            `json:"semantic_hits"`
	SpatialHits    int64            `json:"spatial_hits"`
	Misses         int64            `json:"misses"`
}
