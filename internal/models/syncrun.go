package models

import "time"

// Sync phases, in order. Failed is reachable from any phase.
const (
	SyncPhaseImporting             = "importing"
	SyncPhaseCheckingConfiguration = "checking_configuration"
	SyncPhaseProcessing            = "processing"
	SyncPhaseScheduling            = "scheduling"
	SyncPhaseDone                  = "done"
	SyncPhaseFailed                = "failed"
)

// SyncRun is the execution record of one connection sync attempt. Status
// and Stats are the externally observable progress signal.
type SyncRun struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id"`
	Phase        string         `json:"phase"`
	Status       string         `json:"status"` // short human-readable text
	Stats        map[string]any `json:"stats"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// IsTerminal reports whether the run has finished.
func (r *SyncRun) IsTerminal() bool {
	return r.Phase == SyncPhaseDone || r.Phase == SyncPhaseFailed
}

// MergeStats merges stats into the run. Slices are appended, nested maps
// are merged key by key and any other value replaces the previous one.
func (r *SyncRun) MergeStats(stats map[string]any) {
	if r.Stats == nil {
		r.Stats = make(map[string]any, len(stats))
	}
	mergeInto(r.Stats, stats)
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		switch val := v.(type) {
		case []string:
			if prev, ok := dst[k].([]string); ok {
				dst[k] = append(append([]string(nil), prev...), val...)
				continue
			}
			dst[k] = append([]string(nil), val...)
		case map[string]any:
			prev, ok := dst[k].(map[string]any)
			if !ok {
				prev = make(map[string]any, len(val))
				dst[k] = prev
			}
			mergeInto(prev, val)
		default:
			dst[k] = v
		}
	}
}
