package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"salesagg/internal/aggregate"

	"github.com/segmentio/kafka-go"
)

// fakeWriter implements messageWriter for tests.
type fakeWriter struct {
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func rel() *aggregate.Relation {
	return &aggregate.Relation{
		Name:    "top_customers",
		Columns: []aggregate.Column{{Name: "CustomerID", Kind: aggregate.KindString}},
		Rows:    [][]any{{"17850"}, {"13047"}},
	}
}

func TestPublisher_OneMessagePerRelation(t *testing.T) {
	fw := &fakeWriter{}
	p := newPublisherWith(fw, "run-9")
	r := rel()
	if err := p.Write(context.Background(), "rpt_top_customers", r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "rpt_top_customers" {
		t.Fatalf("bad key: %s", m.Key)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["run_id"] != "run-9" || headers["checksum"] != r.Checksum() {
		t.Fatalf("headers = %v", headers)
	}
	var doc struct {
		RowCount int `json:"row_count"`
	}
	if err := json.Unmarshal(m.Value, &doc); err != nil || doc.RowCount != 2 {
		t.Fatalf("value = %s (err %v)", m.Value, err)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Fatalf("Close err=%v closed=%v", err, fw.closed)
	}
}

func TestPublisher_Fail(t *testing.T) {
	p := newPublisherWith(&fakeWriter{fail: true}, "")
	if err := p.Write(context.Background(), "x", rel()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewPublisher_RequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewPublisher([]string{" "}, "t", ""); err == nil {
		t.Fatalf("expected error for blank brokers")
	}
	if _, err := NewPublisher([]string{"localhost:9092"}, "", ""); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	p, err := NewPublisher([]string{"localhost:9092"}, "reports", "")
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	_ = p.Close()
}
