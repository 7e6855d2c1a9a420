package patterns

import (
	"math"
	"testing"
)

func TestExtractPattern(t *testing.T) {
	tests := []struct {
		name        string
		description string
		expected    string
		ok          bool
	}{
		{"merchant with store number", "TESCO STORES 3297", "%TESCO%", true},
		{"lowercase input", "netflix.com", "%NETFLIX%", true},
		{"punctuation separators", "AMZN*MKTP-UK LTD", "%AMZN%", true},
		{"leading short tokens", "TFL ON BUS PAYMENT", "%PAYMENT%", true},
		{"skips numeric tokens", "12345 SPOTIFY", "%SPOTIFY%", true},
		{"all numeric", "123 456", "", false},
		{"all short tokens", "A BC DEF", "", false},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"boundary length four", "ASDA", "%ASDA%", true},
		{"boundary length three", "LDL", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, ok := ExtractPattern(tt.description)
			if ok != tt.ok {
				t.Fatalf("ExtractPattern(%q) ok = %v, want %v", tt.description, ok, tt.ok)
			}
			if pattern != tt.expected {
				t.Errorf("ExtractPattern(%q) = %q, want %q", tt.description, pattern, tt.expected)
			}
		})
	}
}

func TestMerchantSignature(t *testing.T) {
	token, ok := MerchantSignature("TESCO STORES 3297")
	if !ok || token != "TESCO" {
		t.Errorf("MerchantSignature = %q, %v; want TESCO, true", token, ok)
	}

	if _, ok := MerchantSignature("123 45"); ok {
		t.Error("expected no signature for numeric description")
	}
}

func TestCleanPattern(t *testing.T) {
	if got := CleanPattern("%TESCO%"); got != "TESCO" {
		t.Errorf("CleanPattern(%%TESCO%%) = %q", got)
	}
	if got := CleanPattern("TESCO"); got != "TESCO" {
		t.Errorf("CleanPattern(TESCO) = %q", got)
	}
}

func TestDistanceMetricProperties(t *testing.T) {
	pairs := []struct{ a, b string }{
		{"TESCO", "TESCO"},
		{"TESCO", "TSECO"},
		{"NETFLIX", "NETFLX"},
		{"", "SPOTIFY"},
		{"ALDI", "LIDL"},
	}

	for _, p := range pairs {
		d1 := Distance(p.a, p.b)
		d2 := Distance(p.b, p.a)
		if d1 != d2 {
			t.Errorf("Distance(%q, %q) = %d but reversed = %d", p.a, p.b, d1, d2)
		}
		if p.a == p.b && d1 != 0 {
			t.Errorf("Distance(%q, %q) = %d, want 0", p.a, p.b, d1)
		}
	}

	if got := Distance("", "SPOTIFY"); got != len("SPOTIFY") {
		t.Errorf("Distance(empty, SPOTIFY) = %d, want %d", got, len("SPOTIFY"))
	}
	if got := Distance("kitten", "sitting"); got != 3 {
		t.Errorf("Distance(kitten, sitting) = %d, want 3", got)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "TESCO", "TESCO", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "", "TESCO", 0.0},
		{"one substitution in five", "TESCO", "TESCA", 0.8},
		{"multibyte rune counts once", "CAFÉ", "CAFE", 0.75},
		{"disjoint", "AAAA", "BBBB", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := []struct{ a, b string }{
		{"TESCO EXPRESS", "TESCO"},
		{"X", "LONG MERCHANT NAME"},
		{"NETFLIX", "NETFLX"},
	}

	for _, p := range pairs {
		got := Similarity(p.a, p.b)
		if got < 0 || got > 1 {
			t.Errorf("Similarity(%q, %q) = %f out of [0, 1]", p.a, p.b, got)
		}
	}
}
