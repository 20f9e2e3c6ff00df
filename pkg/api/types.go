package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/app/stox"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings in whole units ("12.5"), never floats.

// ==============================
// REST Response Types
// ==============================

// PriceLevel aggregates resting quantity at one price
type PriceLevel struct {
	Price  string `json:"price"`
	Size   string `json:"size"`
	Orders int    `json:"orders"`
}

// OrderbookSnapshot represents current depth
type OrderbookSnapshot struct {
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Seq       uint64       `json:"seq"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// SideView lists resting orders in priority order as three parallel arrays
type SideView struct {
	Side       string   `json:"side"`
	Traders    []string `json:"traders"`
	Quantities []string `json:"quantities"`
	Prices     []string `json:"prices"`
}

type OrderInfo struct {
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Locked    string `json:"locked"` // collateral still held for this order
	Seq       uint64 `json:"seq"`
	CreatedAt int64  `json:"createdAt"`
}

// TradeInfo represents one fill
type TradeInfo struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Taker     string `json:"taker"`
	Maker     string `json:"maker"`
	TakerSide string `json:"takerSide"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Cash      string `json:"cash"`
	Timestamp int64  `json:"timestamp"`
}

type WithdrawableInfo struct {
	Address    string `json:"address"`
	Currencies string `json:"currencies"`
	Securities string `json:"securities"`
}

type BalanceInfo struct {
	Token     string `json:"token"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"` // granted to the book
}

type AccountBalances struct {
	Address  string        `json:"address"`
	Nonce    uint64        `json:"nonce"`
	Balances []BalanceInfo `json:"balances"`
}

type BookStatus struct {
	Address   string `json:"address"`
	State     string `json:"state"`
	Seq       uint64 `json:"seq"`
	BuyDepth  int    `json:"buyDepth"`
	SellDepth int    `json:"sellDepth"`
	BestBid   string `json:"bestBid,omitempty"`
	BestAsk   string `json:"bestAsk,omitempty"`
	StateHash string `json:"stateHash"`
}

// TxResponse reports an applied transaction
type TxResponse struct {
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Trader    string            `json:"trader"`
	Nonce     uint64            `json:"nonce"`
	Fills     []TradeInfo       `json:"fills,omitempty"`
	Resting   *OrderInfo        `json:"resting,omitempty"`
	Replaced  *OrderInfo        `json:"replaced,omitempty"`
	Debited   string            `json:"debited,omitempty"`
	Cancelled *OrderInfo        `json:"cancelled,omitempty"`
	Withdrawn map[string]string `json:"withdrawn,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["book","trades"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage wraps every pushed update
type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// ==============================
// Conversions
// ==============================

func units(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fixed.FormatUnits(v)
}

func toPriceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: units(l.Price), Size: units(l.Quantity), Orders: l.Orders}
	}
	return out
}

func toSideView(side orderbook.Side, v orderbook.SideView) SideView {
	out := SideView{
		Side:       side.String(),
		Traders:    make([]string, len(v.Traders)),
		Quantities: make([]string, len(v.Quantities)),
		Prices:     make([]string, len(v.Prices)),
	}
	for i := range v.Traders {
		out.Traders[i] = v.Traders[i].Hex()
		out.Quantities[i] = units(v.Quantities[i])
		out.Prices[i] = units(v.Prices[i])
	}
	return out
}

func toOrderInfo(o *orderbook.Order) *OrderInfo {
	if o == nil {
		return nil
	}
	return &OrderInfo{
		Trader:    o.Trader.Hex(),
		Side:      o.Side.String(),
		Price:     units(o.Price),
		Quantity:  units(o.Quantity),
		Locked:    units(o.Locked),
		Seq:       o.Seq,
		CreatedAt: o.CreatedAt.UnixMilli(),
	}
}

func toTradeInfo(f orderbook.Fill) TradeInfo {
	return TradeInfo{
		ID:        f.ID,
		Seq:       f.Seq,
		Taker:     f.Taker.Hex(),
		Maker:     f.Maker.Hex(),
		TakerSide: f.TakerSide.String(),
		Price:     units(f.Price),
		Quantity:  units(f.Quantity),
		Cash:      units(f.Cash),
		Timestamp: f.Timestamp.UnixMilli(),
	}
}

func toStatus(addr string, st exchange.Status) BookStatus {
	return BookStatus{
		Address:   addr,
		State:     st.State.String(),
		Seq:       st.Seq,
		BuyDepth:  st.BuyDepth,
		SellDepth: st.SellDepth,
		BestBid:   units(st.BestBid),
		BestAsk:   units(st.BestAsk),
		StateHash: common.Hash(st.StateHash).Hex(),
	}
}

func toTxResponse(r *stox.Receipt) TxResponse {
	resp := TxResponse{
		Status: "applied",
		Type:   string(r.Type),
		Trader: r.Trader.Hex(),
		Nonce:  r.Nonce,
	}
	if r.Place != nil {
		for _, f := range r.Place.Fills {
			resp.Fills = append(resp.Fills, toTradeInfo(f))
		}
		resp.Resting = toOrderInfo(r.Place.Resting)
		resp.Replaced = toOrderInfo(r.Place.Replaced)
		resp.Debited = units(r.Place.Debited)
	}
	resp.Cancelled = toOrderInfo(r.Cancelled)
	if len(r.Withdrawn) > 0 {
		resp.Withdrawn = make(map[string]string, len(r.Withdrawn))
		for asset, amt := range r.Withdrawn {
			resp.Withdrawn[asset.String()] = units(amt)
		}
	}
	return resp
}
