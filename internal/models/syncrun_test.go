package models

import (
	"reflect"
	"testing"
)

func TestSyncRun_MergeStats_AppendsAndReplaces(t *testing.T) {
	run := &SyncRun{}
	run.MergeStats(map[string]any{
		"accounts_linked": 2,
		"errors":          []string{"a"},
		"processing":      map[string]any{"trades": 1},
	})
	run.MergeStats(map[string]any{
		"accounts_linked": 3,
		"errors":          []string{"b"},
		"processing":      map[string]any{"transactions": 4},
	})

	if run.Stats["accounts_linked"] != 3 {
		t.Errorf("accounts_linked = %v, want 3", run.Stats["accounts_linked"])
	}
	if got := run.Stats["errors"]; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("errors = %v, want [a b]", got)
	}
	proc, ok := run.Stats["processing"].(map[string]any)
	if !ok {
		t.Fatalf("processing stats missing: %v", run.Stats)
	}
	if proc["trades"] != 1 || proc["transactions"] != 4 {
		t.Errorf("processing = %v, want trades=1 transactions=4", proc)
	}
}

func TestSyncRun_MergeStats_DoesNotAliasInput(t *testing.T) {
	warnings := []string{"w1"}
	run := &SyncRun{}
	run.MergeStats(map[string]any{"warnings": warnings})
	warnings[0] = "changed"

	if got := run.Stats["warnings"].([]string)[0]; got != "w1" {
		t.Errorf("warnings[0] = %q, want w1", got)
	}
}

func TestSyncRun_IsTerminal(t *testing.T) {
	for phase, want := range map[string]bool{
		SyncPhaseImporting:  false,
		SyncPhaseProcessing: false,
		SyncPhaseDone:       true,
		SyncPhaseFailed:     true,
	} {
		run := &SyncRun{Phase: phase}
		if got := run.IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", phase, got, want)
		}
	}
}
