package mempool

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Class
	}{
		{"order", `{"type":"order","order":{"side":1},"signature":"0x1234"}`, ClassOrder},
		{"cancel", `{"type":"cancel","cancel":{"side":2},"signature":"0xabcd"}`, ClassCancel},
		{"withdraw", `{"type":"withdraw","withdraw":{"asset":0},"signature":"0x01"}`, ClassNonOrder},
		{"approve", `{"type":"approve","signature":"0x01"}`, ClassNonOrder},
		{"pause", `{"type":"pause","signature":"0x01"}`, ClassNonOrder},
		{"invalid JSON", `{"invalid": "json"`, ClassOrder},
		{"not JSON", "UNKNOWN:foo", ClassOrder},
		{"empty", "", ClassOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify([]byte(tt.tx)); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	orderTx1 := `{"type":"order","order":{"side":1,"nonce":"1"}}`
	orderTx2 := `{"type":"order","order":{"side":2,"nonce":"1"}}`
	cancelTx1 := `{"type":"cancel","cancel":{"side":1,"nonce":"2"}}`
	cancelTx2 := `{"type":"cancel","cancel":{"side":2,"nonce":"2"}}`
	withdrawTx := `{"type":"withdraw","withdraw":{"asset":1,"nonce":"3"}}`

	m.Push([]byte(orderTx1))
	m.Push([]byte(cancelTx1))
	m.Push([]byte(orderTx2))
	m.Push([]byte(withdrawTx))
	m.Push([]byte(cancelTx2))

	txs := m.Drain(0)
	expectOrder := []string{withdrawTx, cancelTx1, cancelTx2, orderTx1, orderTx2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool()
	m.Push([]byte("N:1"))
	m.Push([]byte(`{"type":"cancel"}`))
	m.Push([]byte("N:3"))

	// the cancel is drained first and leaves no room for an order
	txs := m.Drain(19)
	if len(txs) != 1 || string(txs[0]) != `{"type":"cancel"}` {
		t.Fatalf("unexpected drain: %q", txs)
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 txs remaining, got %d", m.Len())
	}

	// draining stops at the first request that does not fit
	txs = m.Drain(3)
	if len(txs) != 1 || string(txs[0]) != "N:1" {
		t.Fatalf("unexpected drain: %q", txs)
	}
}

func TestMempool_PushCopies(t *testing.T) {
	m := NewMempool()
	b := []byte(`{"type":"order"}`)
	m.Push(b)
	b[2] = 'X'
	if got := string(m.Drain(0)[0]); got != `{"type":"order"}` {
		t.Fatalf("mempool aliased caller buffer: %q", got)
	}
}
