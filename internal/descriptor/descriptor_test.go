package descriptor

import "testing"

func TestNewDescriptorFields(t *testing.T) {
	d := New("/data/photos", "my index", "https://example.com/files/", "v0.1.0", 1700000000)
	if len(d.ID) != 32 {
		t.Fatalf("expected a 32-hex id, got %q", d.ID)
	}
	if d.Type != "ndjson" {
		t.Fatalf("expected type ndjson, got %q", d.Type)
	}
	if d.RootLen != len("/data/photos") {
		t.Fatalf("expected root_len to match root, got %d", d.RootLen)
	}
	if d.RunID == "" {
		t.Fatalf("expected a non-empty run id")
	}
}

func TestIDIsDeterministicForSameTimestamp(t *testing.T) {
	a := New("/a", "n", "", "v1", 42)
	b := New("/b", "other", "", "v2", 42)
	if a.ID != b.ID {
		t.Fatalf("expected id to depend only on timestamp: %q != %q", a.ID, b.ID)
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New("/data", "name", "", "v0.1.0", 123)
	if err := Write(dir, d); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != d.ID || got.Root != d.Root || got.Timestamp != d.Timestamp {
		t.Fatalf("round trip mismatch: %+v != %+v", got, d)
	}
}

func TestCheckVersionMismatch(t *testing.T) {
	d := New("/data", "n", "", "v0.1.0", 1)
	if err := CheckVersion(d, "v0.1.0"); err != nil {
		t.Fatalf("expected matching versions to pass, got %v", err)
	}
	if err := CheckVersion(d, "v0.2.0"); err == nil {
		t.Fatalf("expected a version mismatch to be rejected")
	}
}
