package vault

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestChecksumStable(t *testing.T) {
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Checksum([]byte("abc")); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestSnapshotSaveAndLoad(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create snapshot store: %v", err)
	}

	data := []byte("%PDF-1.7 curriculum document body")
	checksum, path, err := store.Save(data)
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if checksum != Checksum(data) {
		t.Errorf("Expected content checksum, got %s", checksum)
	}
	if path != store.Path(checksum) {
		t.Errorf("Expected path %s, got %s", store.Path(checksum), path)
	}
	if !store.Has(checksum) {
		t.Error("Expected snapshot to exist after save")
	}

	loaded, err := store.Load(checksum)
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if !bytes.Equal(loaded, data) {
		t.Error("Snapshot did not round-trip")
	}
}

func TestSnapshotSaveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("Failed to create snapshot store: %v", err)
	}

	data := []byte("%PDF-1.7 curriculum document body")
	first, _, err := store.Save(data)
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	second, _, err := store.Save(data)
	if err != nil {
		t.Fatalf("Failed to re-save snapshot: %v", err)
	}
	if first != second {
		t.Errorf("Expected stable checksum, got %s and %s", first, second)
	}

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatalf("Failed to read snapshot directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 snapshot file, got %d", len(entries))
	}
}

func TestSnapshotLoadDetectsCorruption(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create snapshot store: %v", err)
	}

	checksum, path, err := store.Save([]byte("original document"))
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	if err := os.WriteFile(path, []byte("tampered document"), 0644); err != nil {
		t.Fatalf("Failed to tamper with snapshot: %v", err)
	}

	_, err = store.Load(checksum)
	if err == nil {
		t.Fatal("Expected error loading a tampered snapshot")
	}
	if !strings.Contains(err.Error(), "corrupted") {
		t.Errorf("Expected corruption error, got %v", err)
	}
}

func TestSnapshotMissing(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create snapshot store: %v", err)
	}

	if store.Has("deadbeef") {
		t.Error("Expected no snapshot for unknown checksum")
	}
	if _, err := store.Load("deadbeef"); err == nil {
		t.Error("Expected error loading a missing snapshot")
	}
}
