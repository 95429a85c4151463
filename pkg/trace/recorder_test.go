package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/roboregion/c110p/pkg/command"
)

func TestRecordWritesDecodableEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cmd := command.Command{ID: 7, Tag: command.TagLed}
	if err := r.Record("tx", 1000, cmd); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record("rx", 1001, cmd); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open for readback: %v", err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("decoded %d events, want 2", len(events))
	}
	if events[0].Direction != "tx" || events[0].ID != 7 || events[0].Tag != "led" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Direction != "rx" || events[1].Timestamp != 1001 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}
