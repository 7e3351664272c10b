package feed

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// atofOrZero parses a float64 from a numeric string, returning 0 on a
// blank or malformed value instead of propagating an error. The adapters
// cache each field as received, so a malformed field replaces the
// previously cached value rather than preserving it, and then reads as
// zero; a field that never populated also reads as zero.
func atofOrZero(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// decodeLevels parses an array of [price, qty] pairs, skipping any entry
// that fails to parse rather than aborting the whole frame — malformed
// fields within an otherwise well-formed message are tolerated per the
// feed decoder's error policy.
func decodeLevels(raw []json.RawMessage) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, r := range raw {
		var pair []json.Number
		if err := json.Unmarshal(r, &pair); err != nil || len(pair) < 2 {
			continue
		}
		px, err := decimal.NewFromString(string(pair[0]))
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(string(pair[1]))
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: px, Qty: qty})
	}
	return out
}

// parseDecimalField parses a decimal from a plain string, used by the REST
// bootstrap where levels always arrive as numeric strings.
func parseDecimalField(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// numberOrStringToFloat parses a JSON field that may arrive as either a
// bare number or a quoted numeric string, the way Bybit's ticker payloads
// do, returning 0 when the field is absent or malformed.
func numberOrStringToFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		f, err := n.Float64()
		if err == nil {
			return f
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return atofOrZero(s)
	}
	return 0
}

// decodeLevelsFlexible is decodeLevels but tolerant of price/qty entries
// encoded as bare JSON numbers instead of strings, matching Bybit's wire
// format (which mixes both across endpoints).
func decodeLevelsFlexible(raw []json.RawMessage) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, r := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(r, &pair); err != nil || len(pair) < 2 {
			continue
		}
		px, ok := decodeDecimalField(pair[0])
		if !ok {
			continue
		}
		qty, ok := decodeDecimalField(pair[1])
		if !ok {
			continue
		}
		out = append(out, types.PriceLevel{Price: px, Qty: qty})
	}
	return out
}

func decodeDecimalField(raw json.RawMessage) (decimal.Decimal, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		d, err := decimal.NewFromString(string(n))
		if err == nil {
			return d, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}
