package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/atlasterm/ezod/ezo"
)

func TestNewRecord(t *testing.T) {
	p := ezo.NewParser()
	events := p.Feed([]byte("?I,ORP,1.0\r?T,19.5\r-225.4\r"))
	ev := events[len(events)-1]
	if ev.Kind != ezo.MeasurementChanged {
		t.Fatalf("Expected MeasurementChanged, got %v", ev)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := json.Marshal(NewRecord("s1", ev, now))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"session":"s1","probe_type":"ORP","value":-225.4,"temperature":19.5,"timestamp":"2024-05-01T12:00:00Z"}`
	if string(b) != want {
		t.Errorf("Expected %s, got %s", want, b)
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	pub := &Publisher{
		session: func() string { return "s1" },
		queue:   make(chan *Record, 1),
	}
	pub.Handle(ezo.Event{Kind: ezo.InfoChanged})
	pub.Handle(ezo.Event{Kind: ezo.TransportStatus, Status: ezo.Success})
	if len(pub.queue) != 0 {
		t.Errorf("Expected empty queue, got %d records", len(pub.queue))
	}

	props := ezo.NewProperties()
	props.ProbeType = ezo.ProbePH
	props.CurrentPh = ezo.NewValue(7)
	pub.Handle(ezo.Event{Kind: ezo.MeasurementChanged, Props: props})
	pub.Handle(ezo.Event{Kind: ezo.MeasurementChanged, Props: props})
	if len(pub.queue) != 1 {
		t.Fatalf("Expected one queued record, got %d", len(pub.queue))
	}
	if rec := <-pub.queue; rec.Session != "s1" || rec.ProbeType != ezo.ProbePH {
		t.Errorf("Unexpected record %+v", rec)
	}
}

func TestListKey(t *testing.T) {
	if got := ListKey("abc"); got != "ezo:abc:data" {
		t.Errorf("Expected ezo:abc:data, got %q", got)
	}
}
