package validation

import (
	"strings"
	"testing"
)

func TestValidSheetName(t *testing.T) {
	tests := []struct {
		name    string
		sheet   string
		wantErr bool
	}{
		// Valid names
		{"simple", "Revenue", false},
		{"single char", "A", false},
		{"with space", "FX Rates", false},
		{"with digits", "Q3 2025", false},
		{"inner apostrophe", "Bob's Sheet", false},
		{"quotes are legal", `Revenue "actuals"`, false},
		{"max length", strings.Repeat("x", 31), false},
		{"unicode", "Umsätze", false},

		// Invalid names - injection attempts
		{"empty", "", true},
		{"bracket", "Sheet[1]", true},
		{"colon", "Sheet:Revenue", true},
		{"path traversal", "../../etc/passwd", true},
		{"backslash", `C:\Windows`, true},
		{"wildcard star", "Rev*", true},
		{"wildcard question", "Rev?", true},
		{"leading apostrophe", "'Revenue", true},
		{"trailing apostrophe", "Revenue'", true},
		{"too long", strings.Repeat("x", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidSheetName(tt.sheet)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidSheetName(%q) error = %v, wantErr %v", tt.sheet, err, tt.wantErr)
			}
		})
	}
}

func TestValidSheetNames(t *testing.T) {
	tests := []struct {
		name    string
		sheets  []string
		wantErr bool
	}{
		{"all valid", []string{"Revenue", "FX Rates", "Assumptions"}, false},
		{"one invalid", []string{"Revenue", "Bad:Name", "Assumptions"}, true},
		{"all invalid", []string{"", "A*"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidSheetNames(tt.sheets)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidSheetNames(%v) error = %v, wantErr %v", tt.sheets, err, tt.wantErr)
			}
		})
	}
}

func TestValidA1Range(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		// Valid ranges
		{"single cell", "A1", false},
		{"lowercase cell", "b2", false},
		{"rectangle", "A1:D20", false},
		{"absolute", "$A$1:$D$20", false},
		{"mixed absolute", "A$1:$D20", false},
		{"wide column", "XFD1", false},
		{"big row", "A1048576", false},

		// Invalid ranges
		{"empty", "", true},
		{"row zero", "A0", true},
		{"no row", "A", true},
		{"no column", "11", true},
		{"four letters", "AAAA1", true},
		{"sheet prefix", "Revenue!A1", true},
		{"flux injection", `A1") |> drop()`, true},
		{"trailing colon", "A1:", true},
		{"three corners", "A1:B2:C3", true},
		{"spaces", "A1 :B2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidA1Range(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidA1Range(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeSheetName(t *testing.T) {
	tests := []struct {
		name    string
		sheet   string
		want    string
		wantErr bool
	}{
		{"passthrough", "Revenue", "Revenue", false},
		{"spaces trimmed", "  Revenue  ", "Revenue", false},
		{"inner spaces kept", "FX Rates", "FX Rates", false},
		{"invalid rejected", "Bad:Name", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeSheetName(tt.sheet)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeSheetName(%q) error = %v, wantErr %v", tt.sheet, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeSheetName(%q) = %q, want %q", tt.sheet, got, tt.want)
			}
		})
	}
}
