package core

import (
	"context"
	"sort"
	"time"

	"restorationcore/pkg/domain"
)

// CreatePlantingSite persists a site together with its first history epoch.
func (s *Service) CreatePlantingSite(ctx context.Context, actor Actor, site PlantingSite) (PlantingSite, Result, error) {
	if err := s.authorize(ctx, actor, "", CapUpdateSite, siteTarget("")); err != nil {
		return PlantingSite{}, Result{}, err
	}
	var created PlantingSite
	res, err := s.run(ctx, "create_planting_site", actor, func(tx Transaction) (string, error) {
		site.CurrentHistoryID = ""
		var err error
		created, err = tx.CreateSite(site)
		if err != nil {
			return "", err
		}
		history, err := tx.CreateSiteHistory(PlantingSiteHistory{SiteID: created.ID})
		if err != nil {
			return created.ID, err
		}
		created, err = tx.UpdateSite(created.ID, func(p *PlantingSite) error {
			p.CurrentHistoryID = history.ID
			return nil
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdatePlantingSite mutates site settings. The current history pointer only
// moves through ApplyMapEdit.
func (s *Service) UpdatePlantingSite(ctx context.Context, actor Actor, id string, mutator func(*PlantingSite) error) (PlantingSite, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(id)); err != nil {
		return PlantingSite{}, Result{}, err
	}
	var updated PlantingSite
	res, err := s.run(ctx, "update_planting_site", actor, func(tx Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateSite(id, func(p *PlantingSite) error {
			historyID := p.CurrentHistoryID
			organizationID := p.OrganizationID
			if err := mutator(p); err != nil {
				return err
			}
			p.CurrentHistoryID = historyID
			p.OrganizationID = organizationID
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// CreateZone adds a zone to a site.
func (s *Service) CreateZone(ctx context.Context, actor Actor, zone PlantingZone) (PlantingZone, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(zone.SiteID)); err != nil {
		return PlantingZone{}, Result{}, err
	}
	var created PlantingZone
	res, err := s.run(ctx, "create_zone", actor, func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateZone(zone)
		return created.ID, err
	})
	return created, res, err
}

// CreateSubzone adds a subzone to a zone.
func (s *Service) CreateSubzone(ctx context.Context, actor Actor, subzone PlantingSubzone) (PlantingSubzone, Result, error) {
	siteID, err := s.zoneSite(ctx, subzone.ZoneID)
	if err != nil {
		return PlantingSubzone{}, Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(siteID)); err != nil {
		return PlantingSubzone{}, Result{}, err
	}
	var created PlantingSubzone
	res, err := s.run(ctx, "create_subzone", actor, func(tx Transaction) (string, error) {
		var err error
		created, err = tx.CreateSubzone(subzone)
		return created.ID, err
	})
	return created, res, err
}

// SetSubzonePlantingCompleted records (or clears, with nil) when planting
// finished in a subzone.
func (s *Service) SetSubzonePlantingCompleted(ctx context.Context, actor Actor, subzoneID string, completedAt *time.Time) (PlantingSubzone, Result, error) {
	siteID, err := s.subzoneSite(ctx, subzoneID)
	if err != nil {
		return PlantingSubzone{}, Result{}, err
	}
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(siteID)); err != nil {
		return PlantingSubzone{}, Result{}, err
	}
	var updated PlantingSubzone
	res, err := s.run(ctx, "set_subzone_planting_completed", actor, func(tx Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateSubzone(subzoneID, func(z *PlantingSubzone) error {
			if completedAt == nil {
				z.PlantingCompletedAt = nil
				return nil
			}
			z.PlantingCompletedAt = ptr(completedAt.UTC())
			return nil
		})
		return subzoneID, err
	})
	return updated, res, err
}

// CreatePlot adds a monitoring plot and snapshots its attribution for the
// site's current epoch.
func (s *Service) CreatePlot(ctx context.Context, actor Actor, plot MonitoringPlot) (MonitoringPlot, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(plot.SiteID)); err != nil {
		return MonitoringPlot{}, Result{}, err
	}
	var created MonitoringPlot
	res, err := s.run(ctx, "create_plot", actor, func(tx Transaction) (string, error) {
		site, ok := tx.FindSite(plot.SiteID)
		if !ok {
			return "", domain.NotFound(domain.EntityPlantingSite, plot.SiteID)
		}
		if plot.IsAdHoc && plot.IsPermanent {
			return "", domain.InvalidArgument(domain.ReasonAdHocMismatch, "ad-hoc plots cannot be permanent")
		}
		var err error
		created, err = tx.CreatePlot(plot)
		if err != nil {
			return "", err
		}
		_, err = newPlotHistory(tx, created, site.CurrentHistoryID)
		return created.ID, err
	})
	return created, res, err
}

// CreateSpecies adds a catalog species.
func (s *Service) CreateSpecies(ctx context.Context, actor Actor, species Species) (Species, Result, error) {
	if err := s.authorize(ctx, actor, "", CapUpdateSite, Target{Entity: domain.EntitySpecies}); err != nil {
		return Species{}, Result{}, err
	}
	var created Species
	res, err := s.run(ctx, "create_species", actor, func(tx Transaction) (string, error) {
		if species.ScientificName == "" {
			return "", domain.InvalidArgument("", "species requires a scientific name")
		}
		var err error
		created, err = tx.CreateSpecies(species)
		return created.ID, err
	})
	return created, res, err
}

// MapEdit describes a boundary change already materialized by the geometry
// subsystem.
type MapEdit struct {
	CreateZones    []PlantingZone
	CreateSubzones []PlantingSubzone
	// MovePlots assigns plots to a subzone; a nil subzone detaches the plot.
	MovePlots map[string]*string
	// DeleteSubzoneIDs and DeleteZoneIDs are removed after plots move.
	DeleteSubzoneIDs []string
	DeleteZoneIDs    []string
}

// ApplyMapEdit applies a boundary change and appends a new site-history
// epoch with a fresh history row for every plot. Existing history rows are
// never modified.
func (s *Service) ApplyMapEdit(ctx context.Context, actor Actor, siteID string, edit MapEdit) (PlantingSiteHistory, Result, error) {
	if err := s.authorize(ctx, actor, CapReadSite, CapUpdateSite, siteTarget(siteID)); err != nil {
		return PlantingSiteHistory{}, Result{}, err
	}
	var history PlantingSiteHistory
	res, err := s.run(ctx, "apply_map_edit", actor, func(tx Transaction) (string, error) {
		if _, ok := tx.FindSite(siteID); !ok {
			return siteID, domain.NotFound(domain.EntityPlantingSite, siteID)
		}
		for _, zone := range edit.CreateZones {
			zone.SiteID = siteID
			if _, err := tx.CreateZone(zone); err != nil {
				return siteID, err
			}
		}
		for _, subzone := range edit.CreateSubzones {
			zone, ok := tx.FindZone(subzone.ZoneID)
			if !ok || zone.SiteID != siteID {
				return siteID, domain.InvalidArgument(domain.ReasonSiteMismatch, "zone %s is not part of site %s", subzone.ZoneID, siteID)
			}
			if _, err := tx.CreateSubzone(subzone); err != nil {
				return siteID, err
			}
		}
		for _, plotID := range sortedStrings(edit.MovePlots) {
			target := edit.MovePlots[plotID]
			plot, ok := tx.FindPlot(plotID)
			if !ok {
				return siteID, domain.NotFound(domain.EntityMonitoringPlot, plotID)
			}
			if plot.SiteID != siteID {
				return siteID, domain.InvalidArgument(domain.ReasonSiteMismatch, "plot %s is not part of site %s", plotID, siteID)
			}
			if _, err := tx.UpdatePlot(plotID, func(p *MonitoringPlot) error {
				if target == nil {
					p.SubzoneID = nil
					return nil
				}
				p.SubzoneID = ptr(*target)
				return nil
			}); err != nil {
				return siteID, err
			}
		}
		for _, id := range edit.DeleteSubzoneIDs {
			if err := tx.DeleteSubzone(id); err != nil {
				return siteID, err
			}
		}
		for _, id := range edit.DeleteZoneIDs {
			if err := tx.DeleteZone(id); err != nil {
				return siteID, err
			}
		}
		var err error
		history, err = tx.CreateSiteHistory(PlantingSiteHistory{SiteID: siteID})
		if err != nil {
			return siteID, err
		}
		for _, plot := range tx.ListPlots(siteID) {
			if _, err := newPlotHistory(tx, plot, history.ID); err != nil {
				return siteID, err
			}
		}
		_, err = tx.UpdateSite(siteID, func(p *PlantingSite) error {
			p.CurrentHistoryID = history.ID
			return nil
		})
		return history.ID, err
	})
	return history, res, err
}

// GetPlantingSite returns a site the actor may read.
func (s *Service) GetPlantingSite(ctx context.Context, actor Actor, id string) (PlantingSite, error) {
	if err := s.authorize(ctx, actor, CapReadSite, "", siteTarget(id)); err != nil {
		return PlantingSite{}, err
	}
	var site PlantingSite
	err := s.view(ctx, "get_planting_site", actor, func(view TransactionView) error {
		var ok bool
		site, ok = view.FindSite(id)
		if !ok {
			return domain.NotFound(domain.EntityPlantingSite, id)
		}
		return nil
	})
	return site, err
}

func (s *Service) zoneSite(ctx context.Context, zoneID string) (string, error) {
	var siteID string
	err := s.store.View(ctx, func(view TransactionView) error {
		zone, ok := view.FindZone(zoneID)
		if !ok {
			return domain.NotFound(domain.EntityPlantingZone, zoneID)
		}
		siteID = zone.SiteID
		return nil
	})
	return siteID, err
}

func (s *Service) subzoneSite(ctx context.Context, subzoneID string) (string, error) {
	var siteID string
	err := s.store.View(ctx, func(view TransactionView) error {
		subzone, ok := view.FindSubzone(subzoneID)
		if !ok {
			return domain.NotFound(domain.EntityPlantingSubzone, subzoneID)
		}
		siteID = subzone.SiteID
		return nil
	})
	return siteID, err
}

func (s *Service) plotSite(ctx context.Context, plotID string) (string, error) {
	var siteID string
	err := s.store.View(ctx, func(view TransactionView) error {
		plot, ok := view.FindPlot(plotID)
		if !ok {
			return domain.NotFound(domain.EntityMonitoringPlot, plotID)
		}
		siteID = plot.SiteID
		return nil
	})
	return siteID, err
}

func (s *Service) observationSite(ctx context.Context, observationID string) (Observation, PlantingSite, error) {
	var (
		obs  Observation
		site PlantingSite
	)
	err := s.store.View(ctx, func(view TransactionView) error {
		var ok bool
		obs, ok = view.FindObservation(observationID)
		if !ok {
			return domain.NotFound(domain.EntityObservation, observationID)
		}
		site, ok = view.FindSite(obs.SiteID)
		if !ok {
			return domain.NotFound(domain.EntityPlantingSite, obs.SiteID)
		}
		return nil
	})
	return obs, site, err
}

func sortedStrings[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
