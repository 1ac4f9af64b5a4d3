package models

import "time"

// FeatureRecord is the full serving-store record for one (tenant, entity)
// pair. It is overwritten wholesale on every aggregation cycle so a read
// always sees a single consistent snapshot, and it expires after TTL if
// the entity goes quiet.
type FeatureRecord struct {
	TenantID   string             `json:"tenant_id"`
	EntityID   string             `json:"entity_id"`
	Features   map[string]float64 `json:"features"`
	ComputedAt time.Time          `json:"computed_at"`
	TTLSeconds int64              `json:"ttl_seconds"`
}

// TrainingSample is one point-in-time-correct (features, label) pair.
// Features are computed strictly before ObservationTimestamp; the label
// comes strictly after it, within LabelWindow.
type TrainingSample struct {
	SampleID             string             `json:"sample_id"`
	TenantID             string             `json:"tenant_id"`
	EntityID             string             `json:"entity_id"`
	ObservationTimestamp time.Time          `json:"observation_timestamp"`
	Features             map[string]float64 `json:"features"`
	Label                int                `json:"label"`
	LabelWindow          string             `json:"label_window"`
	PurchasedAt          *time.Time         `json:"purchased_at,omitempty"`
	PurchaseAmount       *float64           `json:"purchase_amount,omitempty"`
	GeneratedAt          time.Time          `json:"generated_at"`
	SchemaVersion        string             `json:"schema_version"`
}
