package domain

import (
	"slices"
	"testing"
)

func TestSpeciesKeyVariants(t *testing.T) {
	known := KnownSpecies("sp-1")
	other := OtherSpecies("  Acacia sp. ")
	unknown := UnknownSpecies()

	if !known.IsKnown() || !other.IsOther() || !unknown.IsUnknown() {
		t.Fatalf("variant predicates mismatch")
	}
	if other.Name != "Acacia sp." {
		t.Fatalf("expected trimmed name, got %q", other.Name)
	}
	for _, key := range []SpeciesKey{known, other, unknown} {
		if err := key.Validate(); err != nil {
			t.Fatalf("validate %s: %v", key, err)
		}
	}
	if known.String() != "known:sp-1" || other.String() != "other:Acacia sp." || unknown.String() != "unknown" {
		t.Fatalf("unexpected canonical strings: %s %s %s", known, other, unknown)
	}
	if OtherSpecies("x") != OtherSpecies(" x") {
		t.Fatalf("expected equal keys after trimming")
	}
}

func TestSpeciesKeyValidateRejectsMixedFields(t *testing.T) {
	cases := []SpeciesKey{
		{},
		{Certainty: CertaintyKnown},
		{Certainty: CertaintyKnown, SpeciesID: "a", Name: "b"},
		{Certainty: CertaintyOther},
		{Certainty: CertaintyOther, Name: "b", SpeciesID: "a"},
		{Certainty: CertaintyUnknown, Name: "b"},
		{Certainty: "maybe"},
	}
	for _, key := range cases {
		if err := key.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", key)
		}
	}
}

func TestSpeciesKeyCompareOrdering(t *testing.T) {
	keys := []SpeciesKey{
		UnknownSpecies(),
		OtherSpecies("b"),
		KnownSpecies("z"),
		OtherSpecies("a"),
		KnownSpecies("a"),
	}
	slices.SortFunc(keys, SpeciesKey.Compare)
	want := []SpeciesKey{KnownSpecies("a"), KnownSpecies("z"), OtherSpecies("a"), OtherSpecies("b"), UnknownSpecies()}
	if !slices.Equal(keys, want) {
		t.Fatalf("unexpected order: %v", keys)
	}
}
