package types

import (
	"encoding/json"
	"testing"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		currency string
		want     Money
		wantErr  bool
	}{
		{"whole dollars", "49", "usd", USD(4900), false},
		{"two decimals", "49.99", "USD", USD(4999), false},
		{"one decimal", "10.5", "eur", EUR(1050), false},
		{"zero decimal currency", "100", "jpy", Money{Amount: 100, Currency: "jpy"}, false},
		{"negative", "-2.50", "usd", USD(-250), false},
		{"too many decimals", "1.999", "usd", Money{}, true},
		{"fraction on yen", "1.5", "jpy", Money{}, true},
		{"garbage", "abc", "usd", Money{}, true},
		{"empty", "", "usd", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.input, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromMajor(t *testing.T) {
	if got := FromMajor(199, "USD"); !got.Equal(USD(19900)) {
		t.Errorf("got %v, want $199.00", got)
	}
	if got := FromMajor(500, "jpy"); got.Amount != 500 {
		t.Errorf("got %d, want 500", got.Amount)
	}
}

func TestMoneyFormatting(t *testing.T) {
	tests := []struct {
		money Money
		want  string
	}{
		{USD(4900), "$49.00"},
		{EUR(19905), "€199.05"},
		{USD(-150), "$-1.50"},
		{Money{Amount: 100, Currency: "jpy"}, "¥100"},
		{Money{Amount: 1234, Currency: "chf"}, "CHF 12.34"},
		{Zero("USD"), "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.money.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(2500).Multiply(2))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["display"] != "$50.00" {
		t.Errorf("display = %v, want $50.00", out["display"])
	}
	if out["amount"] != float64(5000) {
		t.Errorf("amount = %v, want 5000", out["amount"])
	}
}
