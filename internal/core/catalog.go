package core

import (
	"context"
	"strings"

	"restorationcore/pkg/domain"
)

// SpeciesCatalog resolves species IDs and names. It is consulted outside
// store transactions.
type SpeciesCatalog interface {
	FindSpecies(ctx context.Context, id string) (Species, bool, error)
	ResolveName(ctx context.Context, organizationID, name string) (Species, bool, error)
}

// storeCatalog reads the species bucket of a persistent store.
type storeCatalog struct {
	store PersistentStore
}

// NewStoreCatalog returns a catalog backed by the store's species records.
func NewStoreCatalog(store PersistentStore) SpeciesCatalog {
	return storeCatalog{store: store}
}

func (c storeCatalog) FindSpecies(ctx context.Context, id string) (Species, bool, error) {
	var (
		found Species
		ok    bool
	)
	err := c.store.View(ctx, func(view TransactionView) error {
		found, ok = view.FindSpecies(id)
		return nil
	})
	return found, ok, err
}

// ResolveName matches scientific or common names case-insensitively.
func (c storeCatalog) ResolveName(ctx context.Context, organizationID, name string) (Species, bool, error) {
	name = strings.TrimSpace(name)
	var (
		found Species
		ok    bool
	)
	err := c.store.View(ctx, func(view TransactionView) error {
		for _, sp := range view.ListSpecies(organizationID) {
			if strings.EqualFold(sp.ScientificName, name) || (sp.CommonName != "" && strings.EqualFold(sp.CommonName, name)) {
				found, ok = sp, true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

// resolveSpecies loads a species and checks it belongs to organizationID.
func (s *Service) resolveSpecies(ctx context.Context, organizationID, speciesID string) (Species, error) {
	sp, ok, err := s.catalog.FindSpecies(ctx, speciesID)
	if err != nil {
		return Species{}, err
	}
	if !ok {
		return Species{}, domain.NotFound(domain.EntitySpecies, speciesID)
	}
	if organizationID != "" && sp.OrganizationID != organizationID {
		return Species{}, domain.InvalidArgument(domain.ReasonOrganizationMismatch, "species %s belongs to another organization", speciesID)
	}
	return sp, nil
}
