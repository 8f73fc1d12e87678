package project

import "testing"

func TestResolveMainIndex(t *testing.T) {
	tests := []struct {
		index, count, want int
	}{
		{0, 3, 0},
		{2, 3, 2},
		{3, 3, 0},
		{-1, 3, 0},
		{0, 1, 0},
	}
	for _, tt := range tests {
		if got := resolveMainIndex(tt.index, tt.count); got != tt.want {
			t.Errorf("resolveMainIndex(%d, %d) = %d, want %d", tt.index, tt.count, got, tt.want)
		}
	}
}

func TestValidateFields_TrimsAndAcceptsEmptyOptional(t *testing.T) {
	f, errs := validateFields(Submission{Title: "  Loft ", Summary: "   ", Description: "\n明るいリビング\n"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if f.title != "Loft" || f.summary != "" || f.description != "明るいリビング" {
		t.Errorf("fields = %+v", f)
	}
}

func TestValidateFields_CountsRunesNotBytes(t *testing.T) {
	title := ""
	for i := 0; i < MaxTitleLength; i++ {
		title += "あ"
	}
	if _, errs := validateFields(Submission{Title: title}); len(errs) != 0 {
		t.Errorf("title of %d runes should be accepted: %v", MaxTitleLength, errs)
	}
}
