package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, ...Event) error { return f.err }
func (f failingPublisher) Close() error                          { return nil }

func TestFromFill(t *testing.T) {
	taker := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	maker := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	e := FromFill(orderbook.Fill{
		ID:        "fill-1",
		Seq:       9,
		Taker:     taker,
		Maker:     maker,
		TakerSide: orderbook.Buy,
		Price:     uint256.NewInt(10),
		Quantity:  uint256.NewInt(2),
		Cash:      uint256.NewInt(20),
		Timestamp: time.Unix(1, 0),
	})
	if e.Type != TypeFill || e.Seq != 9 || e.Key() != "fill-1" {
		t.Errorf("event = %+v", e)
	}
	if e.Fill.TakerSide != "buy" || e.Fill.Cash != "20" || e.Fill.Maker != maker.Hex() {
		t.Errorf("fill payload = %+v", e.Fill)
	}
}

func TestEncodeMessages(t *testing.T) {
	evs := []Event{
		{Type: TypeWithdrawal, Trader: "0xabc", Asset: "cash", Amount: "5"},
		{Type: TypeBreaker, State: "paused"},
	}
	msgs, err := encodeMessages(evs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if string(msgs[0].Key) != "0xabc" || string(msgs[0].Headers[0].Value) != "withdrawal" {
		t.Errorf("message 0 key/header = %s/%s", msgs[0].Key, msgs[0].Headers[0].Value)
	}
	var decoded Event
	if err := json.Unmarshal(msgs[1].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.State != "paused" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")
	m := Multi{rec, failingPublisher{boom}, NopPublisher{}}

	err := m.Publish(context.Background(), Event{Type: TypeFill}, Event{Type: TypeBreaker})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(rec.Events()) != 2 || len(rec.OfType(TypeBreaker)) != 1 {
		t.Errorf("recorder = %+v", rec.Events())
	}
	if err := m.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestRecorderConcurrentPublish(t *testing.T) {
	rec := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rec.Publish(context.Background(), Event{Type: TypeFill})
				_ = rec.OfType(TypeFill)
			}
		}()
	}
	wg.Wait()
	if got := len(rec.Events()); got != 400 {
		t.Errorf("recorded %d events, want 400", got)
	}
}
