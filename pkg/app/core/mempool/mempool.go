package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
)

// Class buckets pending requests. Lower classes are drained first.
type Class int

const (
	ClassNonOrder Class = iota // approve, withdraw, pause, unpause
	ClassCancel
	ClassOrder
)

// Classify reads the "type" field of a signed request. Anything that cannot be
// parsed is treated as an order so it lands behind cancels and gets rejected
// when applied.
func Classify(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassOrder
	}

	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return ClassOrder
	}

	switch envelope.Type {
	case transaction.TxTypeCancel:
		return ClassCancel
	case transaction.TxTypeApprove, transaction.TxTypeWithdraw, transaction.TxTypePause, transaction.TxTypeUnpause:
		return ClassNonOrder
	default:
		return ClassOrder
	}
}

// Mempool keeps one FIFO queue per class: non-order requests, then cancels,
// then orders. A batch drained from it applies cancels before any order in
// the same batch can match against the cancelled liquidity.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancel   [][]byte
	orders   [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// Push classifies and enqueues a copy of b.
func (m *Mempool) Push(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch Classify(b) {
	case ClassNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case ClassCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// Drain removes and returns up to maxBytes of requests in class order.
// maxBytes <= 0 drains everything.
func (m *Mempool) Drain(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for !full && len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
