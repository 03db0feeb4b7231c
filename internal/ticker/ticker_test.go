package ticker

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tk, err := Parse("PETR4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Root != "PETR" {
		t.Errorf("expected root=PETR, got %s", tk.Root)
	}
	if tk.Class != 4 {
		t.Errorf("expected class=4, got %d", tk.Class)
	}
	if tk.Fractional {
		t.Error("PETR4 is not fractional")
	}
}

func TestParse_NormalizesCaseAndSpace(t *testing.T) {
	tk, err := Parse("  hglg11 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Symbol != "HGLG11" {
		t.Errorf("expected symbol=HGLG11, got %s", tk.Symbol)
	}
	if tk.Class != 11 {
		t.Errorf("expected class=11, got %d", tk.Class)
	}
}

func TestParse_Fractional(t *testing.T) {
	tk, err := Parse("VALE3F")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tk.Fractional {
		t.Error("VALE3F should be fractional")
	}
}

func TestParse_DigitInRoot(t *testing.T) {
	if _, err := Parse("B3SA3"); err != nil {
		t.Errorf("B3SA3 should be valid: %v", err)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"PETR",
		"PET4",
		"PETR123",
		"4PETR4",
		"PETR-4",
		"PETR4X",
	}
	for _, s := range tests {
		_, err := Parse(s)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", s, err)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("   ")
	if !errors.Is(err, ErrEmptyTicker) {
		t.Errorf("expected ErrEmptyTicker, got %v", err)
	}
}

func TestNormalizeSet(t *testing.T) {
	got := NormalizeSet([]string{"vale3", "PETR4", " petr4", "", "ITUB4"})
	want := []string{"ITUB4", "PETR4", "VALE3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNormalizeSet_Empty(t *testing.T) {
	got := NormalizeSet(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestSet(t *testing.T) {
	set := Set([]string{"petr4", "VALE3"})
	if _, ok := set["PETR4"]; !ok {
		t.Error("expected PETR4 in set")
	}
	if len(set) != 2 {
		t.Errorf("expected 2 members, got %d", len(set))
	}
}
