package domain

import (
	"cmp"
	"fmt"
	"strings"
)

// Certainty distinguishes the variants of a SpeciesKey.
type Certainty string

// Species key variants.
const (
	CertaintyKnown   Certainty = "known"
	CertaintyOther   Certainty = "other"
	CertaintyUnknown Certainty = "unknown"
)

// SpeciesKey identifies the species of a plant record or totals row. It is a
// sum type: exactly one of Known(id), Other(name), or Unknown. Build values
// with KnownSpecies, OtherSpecies, or UnknownSpecies; the zero value is invalid.
// Keys are comparable and may be used as map keys.
type SpeciesKey struct {
	Certainty Certainty `json:"certainty"`
	SpeciesID string    `json:"species_id,omitempty"`
	Name      string    `json:"species_name,omitempty"`
}

// KnownSpecies returns the key for a catalog species.
func KnownSpecies(id string) SpeciesKey {
	return SpeciesKey{Certainty: CertaintyKnown, SpeciesID: id}
}

// OtherSpecies returns the key for a free-text species name.
func OtherSpecies(name string) SpeciesKey {
	return SpeciesKey{Certainty: CertaintyOther, Name: strings.TrimSpace(name)}
}

// UnknownSpecies returns the generic unknown bucket.
func UnknownSpecies() SpeciesKey {
	return SpeciesKey{Certainty: CertaintyUnknown}
}

// IsKnown reports whether the key names a catalog species.
func (k SpeciesKey) IsKnown() bool { return k.Certainty == CertaintyKnown }

// IsOther reports whether the key is a free-text name.
func (k SpeciesKey) IsOther() bool { return k.Certainty == CertaintyOther }

// IsUnknown reports whether the key is the unknown bucket.
func (k SpeciesKey) IsUnknown() bool { return k.Certainty == CertaintyUnknown }

// Validate checks that exactly the fields of one variant are populated.
func (k SpeciesKey) Validate() error {
	switch k.Certainty {
	case CertaintyKnown:
		if k.SpeciesID == "" || k.Name != "" {
			return InvalidArgument("", "known species key requires only a species id")
		}
	case CertaintyOther:
		if k.Name == "" || k.SpeciesID != "" {
			return InvalidArgument("", "other species key requires only a name")
		}
	case CertaintyUnknown:
		if k.Name != "" || k.SpeciesID != "" {
			return InvalidArgument("", "unknown species key carries no id or name")
		}
	default:
		return InvalidArgument("", "species key has invalid certainty %q", k.Certainty)
	}
	return nil
}

// String renders the canonical form: known:<id>, other:<name>, or unknown.
func (k SpeciesKey) String() string {
	switch k.Certainty {
	case CertaintyKnown:
		return "known:" + k.SpeciesID
	case CertaintyOther:
		return "other:" + k.Name
	case CertaintyUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("invalid:%s", k.Certainty)
	}
}

func certaintyRank(c Certainty) int {
	switch c {
	case CertaintyKnown:
		return 0
	case CertaintyOther:
		return 1
	case CertaintyUnknown:
		return 2
	default:
		return 3
	}
}

// Compare orders keys Known < Other < Unknown, then by id or name.
func (k SpeciesKey) Compare(other SpeciesKey) int {
	if c := cmp.Compare(certaintyRank(k.Certainty), certaintyRank(other.Certainty)); c != 0 {
		return c
	}
	if c := cmp.Compare(k.SpeciesID, other.SpeciesID); c != 0 {
		return c
	}
	return cmp.Compare(k.Name, other.Name)
}
