package trustroute

import (
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"1", 6, "1000000", false},
		{"1.5", 6, "1500000", false},
		{"0.000001", 6, "1", false},
		{"50.25", 6, "50250000", false},
		{" 10 ", 6, "10000000", false},
		{"123456789012345.123456", 6, "123456789012345123456", false},
		{"1.0000001", 6, "", true},
		{"-1", 6, "", true},
		{"1e6", 6, "", true},
		{".5", 6, "", true},
		{"1.", 6, "", true},
		{"", 6, "", true},
		{"1,000", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToBaseUnits(%q) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
			if err != nil {
				if KindOf(err) != KindValidation || CodeOf(err) != CodeInvalidAmount {
					t.Errorf("expected INVALID_AMOUNT validation error, got %v", err)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("ToBaseUnits(%q) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, units, err := ParseAmount(" 5.25 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != "5.25" || units.Int64() != 5_250_000 {
		t.Errorf("ParseAmount() = %q, %s", amount, units)
	}

	for _, bad := range []string{"0", "0.000000", "abc", "1.1234567"} {
		if _, _, err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q) expected error", bad)
		}
	}
}
