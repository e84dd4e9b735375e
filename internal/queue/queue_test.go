package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"

	"priceetl/internal/logging"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	good := NewWarehouse(WarehouseJob{From: &from})
	b, err := json.Marshal(good)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != good.ID || got.Kind != KindWarehouse || got.Warehouse.From == nil || !got.Warehouse.From.Equal(from) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{"},
		{name: "unknown kind", data: `{"id":"1","kind":"sales"}`},
		{name: "import without path", data: `{"id":"1","kind":"import","import":{"import_id":"x"}}`},
		{name: "warehouse without payload", data: `{"id":"1","kind":"warehouse"}`},
	}
	for _, tc := range tests {
		if _, err := Decode([]byte(tc.data)); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("%s: err=%v, want ErrInvalidJob", tc.name, err)
		}
	}
}

func TestInline(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	release := make(chan struct{})
	h := func(context.Context, Job) error {
		<-release
		ran.Add(1)
		return nil
	}

	d := NewInline(h, true, nil)
	if err := d.Dispatch(context.Background(), NewWarehouse(WarehouseJob{Full: true})); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ran.Load() != 0 {
		t.Fatalf("async dispatch ran inline")
	}
	close(release)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatalf("ran=%d after Close", ran.Load())
	}

	boom := errors.New("boom")
	inline := NewInline(func(context.Context, Job) error { return boom }, false, nil)
	if err := inline.Dispatch(context.Background(), NewWarehouse(WarehouseJob{})); !errors.Is(err, boom) {
		t.Fatalf("sync err=%v, want boom", err)
	}
	if err := inline.Dispatch(context.Background(), Job{Kind: KindImport}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("invalid job err=%v", err)
	}
}

func TestWorker_Process(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad file")
	transient := errors.New("db down")
	isPermanent := func(err error) bool { return errors.Is(err, permanent) }

	msg, _ := json.Marshal(NewImport(ImportJob{ImportID: "imp-1", Path: "prices.csv"}))
	tests := []struct {
		name    string
		data    []byte
		err     error
		wantAck bool
	}{
		{name: "success", data: msg, wantAck: true},
		{name: "permanent failure", data: msg, err: permanent, wantAck: true},
		{name: "transient failure", data: msg, err: transient, wantAck: false},
		{name: "poison message", data: []byte("nope"), wantAck: true},
	}
	for _, tc := range tests {
		w := NewWorker(func(context.Context, Job) error { return tc.err }, isPermanent, nil)
		if got := w.Process(context.Background(), tc.data); got != tc.wantAck {
			t.Fatalf("%s: ack=%v want %v", tc.name, got, tc.wantAck)
		}
	}
}

func TestPubSub_Dispatch(t *testing.T) {
	t.Parallel()

	var sent *pubsub.Message
	p := &PubSub{log: logging.Discard()}
	p.publish = func(_ context.Context, m *pubsub.Message) (string, error) {
		sent = m
		return "msg-1", nil
	}

	j := NewImport(ImportJob{ImportID: "imp-1", Path: "gs://b/prices.csv", TriggerWarehouse: true})
	if err := p.Dispatch(context.Background(), j); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent == nil || sent.Attributes["kind"] != "import" || sent.Attributes["job_id"] != j.ID {
		t.Fatalf("unexpected message: %+v", sent)
	}
	got, err := Decode(sent.Data)
	if err != nil || got.Import.Path != "gs://b/prices.csv" {
		t.Fatalf("payload: %+v %v", got, err)
	}

	p.publish = func(context.Context, *pubsub.Message) (string, error) { return "", errors.New("unavailable") }
	if err := p.Dispatch(context.Background(), j); err == nil {
		t.Fatalf("expected publish error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close without client: %v", err)
	}
}
