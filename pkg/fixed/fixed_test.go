package fixed

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"1", "1000000000000000000", nil},
		{"10.5", "10500000000000000000", nil},
		{"0.000000000000000001", "1", nil},
		{"0", "0", nil},
		{"-1", "", ErrNegative},
		{"0.0000000000000000001", "", ErrPrecision},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseUnits(%q) err = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUnits(%q) unexpected error: %v", tt.in, err)
			}
			if got.Dec() != tt.want {
				t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
			}
		})
	}

	if _, err := ParseUnits("abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(MustUnits("10.25")); got != "10.25" {
		t.Errorf("FormatUnits = %s, want 10.25", got)
	}
	if got := FormatUnits(uint256.NewInt(1)); got != "0.000000000000000001" {
		t.Errorf("FormatUnits(1 wei) = %s", got)
	}
	if got := FormatUnits(nil); got != "0" {
		t.Errorf("FormatUnits(nil) = %s, want 0", got)
	}
}

func TestNotionalTruncates(t *testing.T) {
	tests := []struct {
		name  string
		price *uint256.Int
		qty   *uint256.Int
		want  *uint256.Int
	}{
		{"whole", MustUnits("10"), MustUnits("2"), MustUnits("20")},
		{"fractional", MustUnits("1.5"), MustUnits("0.5"), MustUnits("0.75")},
		// 1e-18 * 0.5 = 5e-19, truncated to zero
		{"truncated to zero", uint256.NewInt(1), MustUnits("0.5"), Zero()},
		// 3e-18 * 0.5 = 1.5e-18, truncated to 1e-18
		{"truncated down", uint256.NewInt(3), MustUnits("0.5"), uint256.NewInt(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overflow := Notional(tt.price, tt.qty)
			if overflow {
				t.Fatal("unexpected overflow")
			}
			if !got.Eq(tt.want) {
				t.Errorf("Notional = %s, want %s", got.Dec(), tt.want.Dec())
			}
		})
	}
}

func TestNotionalOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, overflow := Notional(max, MustUnits("2")); !overflow {
		t.Error("expected overflow for max * 2")
	}
	// wide intermediate: max * 1.0 fits after division
	got, overflow := Notional(max, One)
	if overflow || !got.Eq(max) {
		t.Errorf("Notional(max, 1.0) = %s overflow=%v", got.Dec(), overflow)
	}
}

func TestFromDecimalString(t *testing.T) {
	v, err := FromDecimalString("1500000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if String(v) != "1500000000000000000" {
		t.Errorf("round trip = %s", String(v))
	}
	if _, err := FromDecimalString("-5"); !errors.Is(err, ErrNegative) {
		t.Errorf("err = %v, want ErrNegative", err)
	}
	if _, err := FromDecimalString("1.5"); err == nil {
		t.Error("expected error for fractional wire value")
	}
}
