package mdf

import (
	"encoding/json"
	"fmt"
	"time"
)

// krakenTickerEnvelope mirrors Kraken's WebSocket v2 ticker channel:
// {"channel":"ticker","type":"update","data":[{...}]}. Non-ticker frames
// (heartbeats, subscription acks) are skipped by the caller.
type krakenTickerEnvelope struct {
	Channel string            `json:"channel"`
	Type    string            `json:"type"`
	Data    []krakenTickerRow `json:"data"`
}

type krakenTickerRow struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	BidQty    float64 `json:"bid_qty"`
	Ask       float64 `json:"ask"`
	AskQty    float64 `json:"ask_qty"`
	Last      float64 `json:"last"`
	Volume    float64 `json:"volume"`
}

// ParseKrakenTicker converts one Kraken WS v2 ticker frame into a Tick,
// grounded on the teacher's kraken_ws.go read-loop shape (parse callback
// invoked per raw frame; non-ticker frames return an error the caller
// treats as "skip this message", not a connection failure).
func ParseKrakenTicker(raw []byte) (Tick, error) {
	var env krakenTickerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Tick{}, fmt.Errorf("mdf: kraken ticker decode: %w", err)
	}
	if env.Channel != "ticker" || len(env.Data) == 0 {
		return Tick{}, fmt.Errorf("mdf: not a ticker frame")
	}

	row := env.Data[0]
	return Tick{
		Symbol:    row.Symbol,
		Venue:     "kraken",
		TS:        time.Now().UTC(),
		Bid:       row.Bid,
		Ask:       row.Ask,
		Last:      row.Last,
		BidSize:   row.BidQty,
		AskSize:   row.AskQty,
		Volume24h: row.Volume,
		Quality:   1.0,
	}, nil
}
