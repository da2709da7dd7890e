package docstore

import "testing"

func TestPointIDDeterministicForNonUUID(t *testing.T) {
	a := pointID("doc-123")
	b := pointID("doc-123")
	if a.GetUuid() != b.GetUuid() {
		t.Fatalf("expected stable UUID mapping, got %s vs %s", a.GetUuid(), b.GetUuid())
	}
	if a.GetUuid() == "" {
		t.Fatalf("expected non-empty mapped uuid")
	}
}

func TestPointIDPassesThroughRealUUID(t *testing.T) {
	const u = "550e8400-e29b-41d4-a716-446655440000"
	p := pointID(u)
	if p.GetUuid() != u {
		t.Fatalf("expected passthrough of valid uuid, got %s", p.GetUuid())
	}
}

func TestBoolString(t *testing.T) {
	if boolString(true) != "true" || boolString(false) != "false" {
		t.Fatalf("unexpected boolString output")
	}
}
