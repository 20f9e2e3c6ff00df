package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// orderRecord is the on-disk form of a resting order. Amounts are base-10 strings.
type orderRecord struct {
	Trader    string `json:"trader"`
	Side      uint8  `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Locked    string `json:"locked"`
	Seq       uint64 `json:"seq"`
	CreatedAt int64  `json:"created_at"` // unix nanos
}

type fillRecord struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Taker     string `json:"taker"`
	Maker     string `json:"maker"`
	TakerSide uint8  `json:"taker_side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Cash      string `json:"cash"`
	Timestamp int64  `json:"timestamp"`
}

func encodeOrder(o *orderbook.Order) ([]byte, error) {
	return json.Marshal(orderRecord{
		Trader:    o.Trader.Hex(),
		Side:      uint8(o.Side),
		Price:     fixed.String(o.Price),
		Quantity:  fixed.String(o.Quantity),
		Locked:    fixed.String(o.Locked),
		Seq:       o.Seq,
		CreatedAt: o.CreatedAt.UnixNano(),
	})
}

func decodeOrder(b []byte) (*orderbook.Order, error) {
	var r orderRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	amounts, err := parseAmounts(r.Price, r.Quantity, r.Locked)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", r.Trader, err)
	}
	return &orderbook.Order{
		Trader:    common.HexToAddress(r.Trader),
		Side:      orderbook.Side(r.Side),
		Price:     amounts[0],
		Quantity:  amounts[1],
		Locked:    amounts[2],
		Seq:       r.Seq,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func encodeFill(f orderbook.Fill) ([]byte, error) {
	return json.Marshal(fillRecord{
		ID:        f.ID,
		Seq:       f.Seq,
		Taker:     f.Taker.Hex(),
		Maker:     f.Maker.Hex(),
		TakerSide: uint8(f.TakerSide),
		Price:     fixed.String(f.Price),
		Quantity:  fixed.String(f.Quantity),
		Cash:      fixed.String(f.Cash),
		Timestamp: f.Timestamp.UnixNano(),
	})
}

func decodeFill(b []byte) (orderbook.Fill, error) {
	var r fillRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return orderbook.Fill{}, fmt.Errorf("failed to unmarshal fill: %w", err)
	}
	amounts, err := parseAmounts(r.Price, r.Quantity, r.Cash)
	if err != nil {
		return orderbook.Fill{}, fmt.Errorf("fill %s: %w", r.ID, err)
	}
	return orderbook.Fill{
		ID:        r.ID,
		Seq:       r.Seq,
		Taker:     common.HexToAddress(r.Taker),
		Maker:     common.HexToAddress(r.Maker),
		TakerSide: orderbook.Side(r.TakerSide),
		Price:     amounts[0],
		Quantity:  amounts[1],
		Cash:      amounts[2],
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
	}, nil
}

func parseAmounts(ss ...string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(ss))
	for i, s := range ss {
		v, err := fixed.FromDecimalString(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
