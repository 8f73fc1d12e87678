package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestProject_HasImage_MatchesByURL(t *testing.T) {
	p := &Project{Images: []Image{
		{URL: "/media/p/a.png", Alt: "A"},
		{URL: "/media/p/b.png", Alt: "B"},
	}}

	if !p.HasImage(Image{URL: "/media/p/b.png", Alt: "別の説明"}) {
		t.Error("images with the same URL should be treated as the same image")
	}
	if p.HasImage(Image{URL: "/media/p/c.png"}) {
		t.Error("unknown URL should not match")
	}
}

func TestImage_DataIsNotSerialized(t *testing.T) {
	img := Image{URL: "data:image/png;base64,AAAA", ContentType: "image/png", Data: []byte{0x89, 0x50}}

	raw, err := json.Marshal(img)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(raw), "Data") || strings.Contains(string(raw), `"data"`) {
		t.Errorf("raw bytes should not be part of the JSON body: %s", raw)
	}
}

func TestAdminSession_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Minute), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := AdminSession{Token: "t", ExpiresAt: tt.expiresAt}
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
