package conversion

import "testing"

func TestFormatBirthDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid date", "19900415", "1990-04-15"},
		{"end of year", "19851231", "1985-12-31"},
		{"leap day", "20000229", "2000-02-29"},
		{"empty", "", ""},
		{"too short", "1990", "1990"},
		{"too long", "199004151", "199004151"},
		{"month out of range", "19901315", "19901315"},
		{"day out of range", "19900230", "19900230"},
		{"not a number", "abcdefgh", "abcdefgh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBirthDate(tt.in); got != tt.want {
				t.Errorf("FormatBirthDate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMapGender(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"male", "M", "male"},
		{"male lowercase", "m", "male"},
		{"female", "F", "female"},
		{"female lowercase", "f", "female"},
		{"other", "O", "other"},
		{"other lowercase", "o", "other"},
		{"padded", " M ", "male"},
		{"unrecognized", "U", "unknown"},
		{"word not code", "male", "unknown"},
		{"empty", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapGender(tt.in); got != tt.want {
				t.Errorf("MapGender(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
