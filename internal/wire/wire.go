// Package wire encodes and decodes the StateSnapshot payload published to
// the fan-out bus and read back by subscribers — the `market_state_v1`
// JSON schema. Every numeric field is written fixed-point at 8 fractional
// digits; decoding tolerates the same field arriving as either a JSON
// number or a numeric string, matching the subscriber's "safe numeric
// decode" contract. This mirrors the original serializer's fixed 8-digit
// precision (std::setprecision(8)) exactly.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mdpipe/pkg/types"
)

// flexFloat64 marshals as a fixed-point, 8-fractional-digit JSON number
// and unmarshals from either a JSON number or a quoted numeric string.
type flexFloat64 float64

func (f flexFloat64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(f), 'f', 8, 64)), nil
}

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex float64 %q: %w", s, err)
	}
	*f = flexFloat64(v)
	return nil
}

type bookMeta struct {
	BidLevels int `json:"bid_levels"`
	AskLevels int `json:"ask_levels"`
}

type topOfBook struct {
	Bid    flexFloat64 `json:"bid"`
	Ask    flexFloat64 `json:"ask"`
	Mid    flexFloat64 `json:"mid"`
	Spread flexFloat64 `json:"spread"`
}

type returns struct {
	R1  flexFloat64 `json:"r1"`
	R5  flexFloat64 `json:"r5"`
	R10 flexFloat64 `json:"r10"`
}

type depth struct {
	BidVol [5]flexFloat64 `json:"bid_vol"`
	AskVol [5]flexFloat64 `json:"ask_vol"`
}

type features struct {
	Imbalance flexFloat64 `json:"imbalance"`
}

type payload struct {
	Schema     string    `json:"schema"`
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	TsMs       int64     `json:"ts_ms"`
	BookMeta   bookMeta  `json:"book_meta"`
	TopOfBook  topOfBook `json:"top_of_book"`
	Returns    returns   `json:"returns"`
	Depth      depth     `json:"depth"`
	Features   features  `json:"features"`
}

// Topic builds the PUB topic string for a key: "state.<exchange>.<instrument>".
func Topic(prefix string, exchange types.Exchange, instrument string) string {
	return prefix + string(exchange) + "." + instrument
}

// Encode builds the market_state_v1 JSON payload for one snapshot.
func Encode(s types.StateSnapshot) ([]byte, error) {
	p := payload{
		Schema:     types.SchemaMarketStateV1,
		Exchange:   string(s.Exchange),
		Instrument: s.Instrument,
		TsMs:       s.TsMs,
		BookMeta:   bookMeta{BidLevels: s.BidLevels, AskLevels: s.AskLevels},
		TopOfBook: topOfBook{
			Bid:    flexFloat64(s.Bid),
			Ask:    flexFloat64(s.Ask),
			Mid:    flexFloat64(s.Mid),
			Spread: flexFloat64(s.Spread),
		},
		Returns: returns{R1: flexFloat64(s.R1), R5: flexFloat64(s.R5), R10: flexFloat64(s.R10)},
		Features: features{
			Imbalance: flexFloat64(s.Imbalance),
		},
	}
	for i := 0; i < 5; i++ {
		p.Depth.BidVol[i] = flexFloat64(s.BidVol[i])
		p.Depth.AskVol[i] = flexFloat64(s.AskVol[i])
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a market_state_v1 payload. Subscribers treat a decode
// failure or schema mismatch as "no record" per the subscriber's tolerant
// contract — no error is raised across the publisher/subscriber boundary.
func Decode(data []byte) (types.StateSnapshot, bool) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.StateSnapshot{}, false
	}
	if p.Schema != types.SchemaMarketStateV1 {
		return types.StateSnapshot{}, false
	}

	s := types.StateSnapshot{
		Schema:        p.Schema,
		Exchange:      types.Exchange(p.Exchange),
		Instrument:    p.Instrument,
		TsMs:          p.TsMs,
		BidLevels:     p.BookMeta.BidLevels,
		AskLevels:     p.BookMeta.AskLevels,
		Bid:           float64(p.TopOfBook.Bid),
		Ask:           float64(p.TopOfBook.Ask),
		Mid:           float64(p.TopOfBook.Mid),
		Spread:        float64(p.TopOfBook.Spread),
		R1:            float64(p.Returns.R1),
		R5:            float64(p.Returns.R5),
		R10:           float64(p.Returns.R10),
		Imbalance:     float64(p.Features.Imbalance),
		CrossExSignal: 0,
	}
	for i := 0; i < 5; i++ {
		s.BidVol[i] = float64(p.Depth.BidVol[i])
		s.AskVol[i] = float64(p.Depth.AskVol[i])
	}
	return s, true
}
