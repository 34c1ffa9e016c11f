package model

import "testing"

func TestSelection_Select_replaces(t *testing.T) {
	s := NewSelection("pol-1", "pol-2")
	if s.HasSelection() {
		t.Fatal("HasSelection() = true before any pick")
	}
	if err := s.Select("pol-1"); err != nil {
		t.Fatalf("Select(pol-1): %v", err)
	}
	if err := s.Select("pol-2"); err != nil {
		t.Fatalf("Select(pol-2): %v", err)
	}
	if s.Selected != "pol-2" {
		t.Errorf("Selected = %q, want %q", s.Selected, "pol-2")
	}
}

func TestSelection_Select_unknown(t *testing.T) {
	s := NewSelection("pol-1")
	_ = s.Select("pol-1")
	if err := s.Select("pol-9"); err == nil {
		t.Fatal("Select(pol-9) = nil, want error")
	}
	if s.Selected != "pol-1" {
		t.Errorf("Selected = %q, want previous pick %q", s.Selected, "pol-1")
	}
}
