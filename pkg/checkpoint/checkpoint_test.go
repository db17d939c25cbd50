package checkpoint

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	snap := NewSnapshot("exec-1")
	snap.Variables["x"] = "hello"
	snap.CompletedNodes = append(snap.CompletedNodes, "START", "AI_TASK")
	snap.CurrentNodeID = "END"

	data, err := snap.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if restored.ExecutionID != snap.ExecutionID {
		t.Fatalf("execution id mismatch: %s != %s", restored.ExecutionID, snap.ExecutionID)
	}
	if restored.Variables["x"] != "hello" {
		t.Fatalf("variables not preserved: %v", restored.Variables)
	}
	if len(restored.CompletedNodes) != 2 {
		t.Fatalf("completed nodes not preserved: %v", restored.CompletedNodes)
	}
}

func TestSnapshotRedact(t *testing.T) {
	snap := NewSnapshot("exec-1")
	snap.Variables["apiKey"] = "sk-secret"
	snap.Variables["x"] = "hello"

	redacted := snap.Redact([]string{"apiKey"})
	if redacted.Variables["apiKey"] != RedactionMarker {
		t.Fatalf("expected apiKey redacted, got %v", redacted.Variables["apiKey"])
	}
	if redacted.Variables["x"] != "hello" {
		t.Fatalf("expected x untouched, got %v", redacted.Variables["x"])
	}
	if snap.Variables["apiKey"] != "sk-secret" {
		t.Fatal("redact must not mutate the original snapshot")
	}
}

func TestSnapshotExpiry(t *testing.T) {
	snap := NewSnapshot("exec-1")
	snap.CreatedAt = time.Now().Add(-2 * time.Hour)

	if !snap.IsExpired(time.Hour) {
		t.Fatal("expected snapshot to be expired")
	}
	if snap.IsExpired(0) {
		t.Fatal("zero timeout should disable expiry")
	}
}

func TestManagerIntervalCheckpointing(t *testing.T) {
	enabled := true
	cfg := &Config{Enabled: &enabled, Strategy: StrategyInterval, Interval: 2}
	cfg.SetDefaults()
	mgr := NewManager(cfg, NewInMemoryStore())
	ctx := context.Background()

	snap := NewSnapshot("exec-1")
	if err := mgr.SaveAtNodeCount(ctx, snap, 1); err != nil {
		t.Fatalf("SaveAtNodeCount(1): %v", err)
	}
	if _, err := mgr.Load(ctx, "exec-1"); err == nil {
		t.Fatal("expected no checkpoint saved at node count 1")
	}

	if err := mgr.SaveAtNodeCount(ctx, snap, 2); err != nil {
		t.Fatalf("SaveAtNodeCount(2): %v", err)
	}
	if _, err := mgr.Load(ctx, "exec-1"); err != nil {
		t.Fatalf("expected checkpoint saved at node count 2: %v", err)
	}
}

func TestManagerSaveOnWaitAndClear(t *testing.T) {
	enabled := true
	cfg := &Config{Enabled: &enabled, Strategy: StrategyEvent}
	cfg.SetDefaults()
	mgr := NewManager(cfg, NewInMemoryStore())
	ctx := context.Background()

	snap := NewSnapshot("exec-1")
	snap.CurrentNodeID = "APPROVAL"
	if err := mgr.SaveOnWait(ctx, snap, WaitApproval, map[string]any{"node_id": "APPROVAL"}); err != nil {
		t.Fatalf("SaveOnWait: %v", err)
	}

	loaded, err := mgr.Load(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.WaitingFor != WaitApproval {
		t.Fatalf("expected waiting_for=approval, got %q", loaded.WaitingFor)
	}

	if err := mgr.Clear(ctx, "exec-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := mgr.Load(ctx, "exec-1"); err == nil {
		t.Fatal("expected checkpoint cleared")
	}
}
