package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestWriter(t *testing.T) (*FileWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var events []Event
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

// useGlobal routes the package-level logger to a fresh file for one test.
func useGlobal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := InitFile(path); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	t.Cleanup(func() { Close() })
	return path
}

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Defaults(t *testing.T) {
	e := NewEvent(EventRequestBuilt, ResultSuccess)

	if e.EventType != EventRequestBuilt || e.Result != ResultSuccess {
		t.Errorf("event = %s/%s", e.EventType, e.Result)
	}
	if !strings.HasSuffix(e.Timestamp, "Z") {
		t.Errorf("Timestamp = %q, want UTC", e.Timestamp)
	}
	if e.Actor.Type != "user" || e.Actor.ID == "" {
		t.Errorf("Actor = %+v", e.Actor)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestU_Event_Validate(t *testing.T) {
	valid := func() *Event { return NewEvent(EventInspect, ResultSuccess) }
	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"[Unit] Validate: missing event_type", func(e *Event) { e.EventType = "" }},
		{"[Unit] Validate: missing timestamp", func(e *Event) { e.Timestamp = "" }},
		{"[Unit] Validate: missing actor id", func(e *Event) { e.Actor.ID = "" }},
		{"[Unit] Validate: missing result", func(e *Event) { e.Result = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			if err := e.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestU_ResultOf(t *testing.T) {
	if ResultOf(nil) != ResultSuccess {
		t.Error("ResultOf(nil) != success")
	}
	if ResultOf(errors.New("x")) != ResultFailure {
		t.Error("ResultOf(err) != failure")
	}
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestF_FileWriter_Chain(t *testing.T) {
	w, path := newTestWriter(t)

	if w.LastHash() != GenesisHash {
		t.Errorf("LastHash() = %q, want genesis", w.LastHash())
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(NewEvent(EventRequestBuilt, ResultSuccess)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].HashPrev != GenesisHash {
		t.Errorf("first hash_prev = %q", events[0].HashPrev)
	}
	for i := 1; i < len(events); i++ {
		if events[i].HashPrev != events[i-1].Hash {
			t.Errorf("event %d is not chained to event %d", i, i-1)
		}
	}
	if w.LastHash() != events[2].Hash {
		t.Error("LastHash() does not match the last event")
	}
	if !strings.HasPrefix(events[0].Hash, "sha256:") {
		t.Errorf("Hash = %q, want sha256: prefix", events[0].Hash)
	}

	n, err := VerifyFile(path)
	if err != nil || n != 3 {
		t.Errorf("VerifyFile() = %d, %v; want 3, nil", n, err)
	}
}

func TestF_FileWriter_ResumesChain(t *testing.T) {
	w, path := newTestWriter(t)
	if err := w.Write(NewEvent(EventKeyAccessed, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	last := w.LastHash()
	w.Close()

	w2, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	defer w2.Close()
	if w2.LastHash() != last {
		t.Errorf("reopened LastHash() = %q, want %q", w2.LastHash(), last)
	}
	if err := w2.Write(NewEvent(EventInspect, ResultSuccess)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n, err := VerifyFile(path); err != nil || n != 2 {
		t.Errorf("VerifyFile() = %d, %v; want 2, nil", n, err)
	}
}

func TestU_FileWriter_Errors(t *testing.T) {
	t.Run("[Unit] FileWriter: invalid event", func(t *testing.T) {
		w, _ := newTestWriter(t)
		if err := w.Write(&Event{}); err == nil {
			t.Error("Write() should reject an invalid event")
		}
		if w.LastHash() != GenesisHash {
			t.Error("a rejected event must not advance the chain")
		}
	})

	t.Run("[Unit] FileWriter: closed", func(t *testing.T) {
		w, _ := newTestWriter(t)
		w.Close()
		if err := w.Write(NewEvent(EventInspect, ResultSuccess)); err == nil {
			t.Error("Write() after Close() should fail")
		}
		if err := w.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})

	t.Run("[Unit] FileWriter: corrupt existing log", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.jsonl")
		os.WriteFile(path, []byte("not json\n"), 0600)
		if _, err := NewFileWriter(path); err == nil {
			t.Error("NewFileWriter() should fail on a corrupt log")
		}
	})

	t.Run("[Unit] FileWriter: unwritable directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "audit.jsonl")
		if _, err := NewFileWriter(path); err == nil {
			t.Error("NewFileWriter() should fail for a missing directory")
		}
	})
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestF_Verify_DetectsTampering(t *testing.T) {
	w, path := newTestWriter(t)
	for _, tx := range []string{"tx-one", "tx-two", "tx-three"} {
		e := NewEvent(EventRequestBuilt, ResultSuccess).WithObject(Object{Type: "scep_request", TransactionID: tx})
		if err := w.Write(e); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	tests := []struct {
		name      string
		log       string
		wantCount int
	}{
		{"[Functional] Verify: edited field", strings.Replace(string(data), "tx-two", "tx-evil", 1), 1},
		{"[Functional] Verify: deleted line", lines[0] + "\n" + lines[2] + "\n", 1},
		{"[Functional] Verify: reordered", lines[1] + "\n" + lines[0] + "\n", 0},
		{"[Functional] Verify: garbage line", lines[0] + "\n{oops\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Verify(strings.NewReader(tt.log))
			if !errors.Is(err, ErrChainBroken) {
				t.Errorf("Verify() error = %v, want ErrChainBroken", err)
			}
			if n != tt.wantCount {
				t.Errorf("Verify() count = %d, want %d", n, tt.wantCount)
			}
		})
	}
}

func TestU_Verify_EmptyAndBlankLines(t *testing.T) {
	if n, err := Verify(strings.NewReader("")); err != nil || n != 0 {
		t.Errorf("Verify(empty) = %d, %v", n, err)
	}
	if n, err := Verify(strings.NewReader("\n\n")); err != nil || n != 0 {
		t.Errorf("Verify(blank) = %d, %v", n, err)
	}
}

func TestU_VerifyFile_Missing(t *testing.T) {
	_, err := VerifyFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("VerifyFile() error = %v, want ErrNotExist", err)
	}
}

// =============================================================================
// Global Logger Tests
// =============================================================================

func TestU_Global_DisabledByDefault(t *testing.T) {
	Init(nil)
	if Enabled() {
		t.Error("Enabled() = true after Init(nil)")
	}
	if err := LogInspect("x.pem", "tx", true); err != nil {
		t.Errorf("LogInspect() with auditing off error = %v", err)
	}
	if err := InitFile(""); err != nil || Enabled() {
		t.Errorf("InitFile(\"\") = %v, Enabled() = %v", err, Enabled())
	}
}

func TestF_Global_Helpers(t *testing.T) {
	path := useGlobal(t)
	if !Enabled() {
		t.Fatal("Enabled() = false after InitFile")
	}

	info := RequestInfo{
		TransactionID: "0123456789abcdef",
		Subject:       "CN=device1",
		SignerSerial:  "4242",
		Digest:        "md5",
		Cipher:        "des-ede3-cbc",
		Recipient:     "CN=Test SCEP CA",
		Output:        "req.pem",
	}
	steps := []func() error{
		func() error { return LogKeyAccessed("device.key", nil) },
		func() error { return LogRequestBuilt(info) },
		func() error { return LogRequestFailed(info, errors.New("scep build: bad key")) },
		func() error { return LogInspect("req.pem", info.TransactionID, false) },
		func() error { return LogReceiptVerify("req.receipt", info.TransactionID, errors.New("bad sig")) },
		func() error { return LogServiceStarted(":8080", "v1.0.0") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	events := readEvents(t, path)
	want := []EventType{
		EventKeyAccessed, EventRequestBuilt, EventRequestFailed,
		EventInspect, EventReceiptVerify, EventServiceStarted,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.EventType, want[i])
		}
	}

	built := events[1]
	if built.Object.TransactionID != info.TransactionID || built.Details.Cipher != "des-ede3-cbc" {
		t.Errorf("built event = %+v", built)
	}
	if events[2].Result != ResultFailure || events[2].Details.Reason != "scep build: bad key" {
		t.Errorf("failed event = %+v", events[2])
	}
	if events[4].Result != ResultFailure || events[4].Details.Verified {
		t.Errorf("receipt event = %+v", events[4])
	}
	if events[5].Actor.Type != "service" || events[5].Details.Address != ":8080" {
		t.Errorf("service event = %+v", events[5])
	}

	if n, err := VerifyFile(path); err != nil || n != len(want) {
		t.Errorf("VerifyFile() = %d, %v", n, err)
	}
}

func TestU_Global_NoSecretsInKeyEvent(t *testing.T) {
	path := useGlobal(t)
	if err := LogKeyAccessed("pkcs11:device-key", nil); err != nil {
		t.Fatalf("LogKeyAccessed() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "PRIVATE KEY") {
		t.Error("audit log contains key material")
	}
	if !strings.Contains(string(data), "pkcs11:device-key") {
		t.Error("audit log does not name the key location")
	}
}
