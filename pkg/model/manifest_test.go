package model

import (
	"testing"
	"time"
)

func TestOutputManifest(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	manifest := NewOutputManifest([]string{"b.md", "a/settings.json"}, "blake2b:cafe", at)
	if len(manifest.Files) != 2 || manifest.Files[0] != "a/settings.json" {
		t.Errorf("NewOutputManifest() files not sorted: %v", manifest.Files)
	}
	if !manifest.Has("b.md") || manifest.Has("missing.md") {
		t.Errorf("Has() misreports membership")
	}

	buf, err := MarshalManifest(manifest)
	if err != nil {
		t.Fatalf("MarshalManifest() error = %v", err)
	}
	back, err := UnmarshalManifest(buf)
	if err != nil {
		t.Fatalf("UnmarshalManifest() error = %v", err)
	}
	if back.MergeFingerprint != "blake2b:cafe" || len(back.Files) != 2 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestUnmarshalManifestRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := UnmarshalManifest([]byte("{ not yaml")); err == nil {
		t.Errorf("UnmarshalManifest() expected an error")
	}
}
