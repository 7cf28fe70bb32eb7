package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordID(t *testing.T) {
	cases := []struct {
		rec    Record
		want   string
		wantOK bool
	}{
		{Record{"id": "p1"}, "p1", true},
		{Record{"id": ""}, "", false},
		{Record{"id": float64(42)}, "42", true},
		{Record{"id": 7}, "7", true},
		{Record{"name": "no id"}, "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		got, ok := RecordID(tc.rec)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("RecordID(%v) = %q, %v, want %q, %v", tc.rec, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestDecodeFlatDocument(t *testing.T) {
	doc := `{"products":[{"id":"p1","stock":5}],"sales":[],"settings":{"currency":"USD"}}`
	s, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
	want := []Record{{"id": "p1", "stock": float64(5)}}
	if diff := cmp.Diff(want, s.Collections[Products]); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
	if s.Settings["currency"] != "USD" {
		t.Errorf("settings currency = %v, want USD", s.Settings["currency"])
	}
	if _, ok := s.Collections[SettingsKey]; ok {
		t.Error("settings should not be decoded as a collection")
	}
}

func TestDecodeRejectsNonArrayCollection(t *testing.T) {
	if _, err := Decode([]byte(`{"products":{"id":"p1"}}`)); err == nil {
		t.Fatal("expected error for object-valued collection")
	}
}

func TestEncodeKeepsEmptyCollections(t *testing.T) {
	s := New()
	data, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(back.Collections) != len(Collections) {
		t.Errorf("collections = %d, want %d", len(back.Collections), len(Collections))
	}
	if !back.IsEmpty() {
		t.Error("empty snapshot should stay empty")
	}
}

func TestIsEmptyConsidersSettings(t *testing.T) {
	s := New()
	s.Settings = map[string]any{"currency": "USD"}
	if s.IsEmpty() {
		t.Error("snapshot with settings should not be empty")
	}
}
