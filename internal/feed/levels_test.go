package feed

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func rawMessages(t *testing.T, arr string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	if err := json.Unmarshal([]byte(arr), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", arr, err)
	}
	return out
}

func TestDecodeLevelsSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	raw := rawMessages(t, `[["100","1"],["bad","2"],["99"],["98","2"]]`)
	got := decodeLevels(raw)
	if len(got) != 2 {
		t.Fatalf("got %d levels, want 2 (malformed entries skipped)", len(got))
	}
	if !got[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("got[0].Price = %s, want 100", got[0].Price)
	}
}

func TestDecodeLevelsFlexibleAcceptsNumbersAndStrings(t *testing.T) {
	t.Parallel()

	raw := rawMessages(t, `[[100,1],["99","2"]]`)
	got := decodeLevelsFlexible(raw)
	if len(got) != 2 {
		t.Fatalf("got %d levels, want 2", len(got))
	}
	if !got[0].Price.Equal(decimal.NewFromInt(100)) || !got[1].Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("got = %+v", got)
	}
}

func TestNumberOrStringToFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"bare number", `3163.25`, 3163.25},
		{"quoted string", `"3163.25"`, 3163.25},
		{"empty", ``, 0},
		{"malformed", `"abc"`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := numberOrStringToFloat(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("numberOrStringToFloat(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAtofOrZero(t *testing.T) {
	t.Parallel()

	if got := atofOrZero(""); got != 0 {
		t.Errorf("atofOrZero(\"\") = %v, want 0", got)
	}
	if got := atofOrZero("not-a-number"); got != 0 {
		t.Errorf("atofOrZero(garbage) = %v, want 0", got)
	}
	if got := atofOrZero("1.5"); got != 1.5 {
		t.Errorf("atofOrZero(\"1.5\") = %v, want 1.5", got)
	}
}
