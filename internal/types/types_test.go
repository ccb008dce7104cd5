package types

import (
	"math"
	"testing"
	"time"
)

func TestParseFxPair(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    FxPair
		wantErr bool
	}{
		{name: "canonical", input: "GBP/USD", want: FxPair{Base: "GBP", Quote: "USD"}},
		{name: "lower case is normalised", input: "eur/usd", want: FxPair{Base: "EUR", Quote: "USD"}},
		{name: "missing quote", input: "EUR/", wantErr: true},
		{name: "no separator", input: "EURUSD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFxPair(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFxPair(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseFxPair(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDirectionForAmount(t *testing.T) {
	if got := DirectionForAmount(-0.01); got != DirectionLoan {
		t.Errorf("DirectionForAmount(-0.01) = %v, want loan", got)
	}
	if got := DirectionForAmount(0); got != DirectionDeposit {
		t.Errorf("DirectionForAmount(0) = %v, want deposit", got)
	}
	if got := DirectionForAmount(10); got != DirectionDeposit {
		t.Errorf("DirectionForAmount(10) = %v, want deposit", got)
	}
}

func TestActual365Fixed(t *testing.T) {
	dc := Actual365Fixed{}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := dc.YearFraction(start, AddDays(start, 30)); math.Abs(got-30.0/365.0) > 1e-15 {
		t.Errorf("YearFraction(30 days) = %v, want %v", got, 30.0/365.0)
	}
	if got := dc.YearFraction(start, start); got != 0 {
		t.Errorf("YearFraction(same day) = %v, want 0", got)
	}
	if got := dc.YearFractionFromDays(1); got != 1.0/365.0 {
		t.Errorf("YearFractionFromDays(1) = %v", got)
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2021, 3, 4, 17, 45, 0, 0, time.FixedZone("x", 3600))
	got := StartOfDay(in)
	want := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("StartOfDay() = %v, want %v", got, want)
	}
}
