package feedback

import "testing"

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"complete", Record{Author: "a", Date: "d", Text: "t"}, true},
		{"zero stars allowed", Record{Author: "a", Date: "d", Text: "t", Stars: 0}, true},
		{"blank author", Record{Author: "  ", Date: "d", Text: "t"}, false},
		{"missing date", Record{Author: "a", Text: "t"}, false},
		{"whitespace text", Record{Author: "a", Date: "d", Text: "\n\t"}, false},
		{"negative stars", Record{Author: "a", Date: "d", Text: "t", Stars: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	r := Record{Author: " kim ", Date: "\t2025\n", Text: "  body ", Stars: -3, URL: " https://x "}.Normalize()
	if r.Author != "kim" || r.Date != "2025" || r.Text != "body" || r.URL != "https://x" {
		t.Errorf("Normalize() = %+v", r)
	}
	if r.Stars != 0 {
		t.Errorf("Stars = %d, want 0", r.Stars)
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	src := []Record{{Author: "a"}}
	dup := Clone(src)
	dup[0].Author = "b"
	if src[0].Author != "a" {
		t.Errorf("Clone aliased the source slice")
	}
	if Clone(nil) != nil {
		t.Errorf("Clone(nil) should be nil")
	}
}
