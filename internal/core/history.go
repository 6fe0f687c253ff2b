package core

import (
	"restorationcore/pkg/domain"
)

// Attribution is the subzone and zone a plot belonged to for one
// observation, as recorded by the history snapshot bound at assignment time.
type Attribution struct {
	PlotID          string
	HistoryID       string
	SiteHistoryID   string
	SubzoneID       string
	SubzoneName     string
	SubzoneFullName string
	ZoneID          string
	ZoneName        string
}

func attributionFromHistory(h MonitoringPlotHistory) Attribution {
	return Attribution{
		PlotID:          h.PlotID,
		HistoryID:       h.ID,
		SiteHistoryID:   h.SiteHistoryID,
		SubzoneID:       deref(h.SubzoneID),
		SubzoneName:     h.SubzoneName,
		SubzoneFullName: h.SubzoneFullName,
		ZoneID:          deref(h.ZoneID),
		ZoneName:        h.ZoneName,
	}
}

// ResolveAttribution returns the attribution of an assignment. It never
// consults the plot's current subzone.
func ResolveAttribution(view TransactionView, op ObservationPlot) (Attribution, error) {
	h, ok := view.FindPlotHistory(op.PlotHistoryID)
	if !ok {
		return Attribution{}, domain.NotFound(domain.EntityPlotHistory, op.PlotHistoryID)
	}
	return attributionFromHistory(h), nil
}

// sameLineage reports whether two attributions of one plot are continuous
// for cumulative-dead carry-forward.
func sameLineage(prev, cur Attribution) bool {
	return prev.PlotID == cur.PlotID && prev.SubzoneID == cur.SubzoneID
}

// newPlotHistory snapshots the plot's current subzone and zone names for a
// site-history epoch.
func newPlotHistory(tx Transaction, plot MonitoringPlot, siteHistoryID string) (MonitoringPlotHistory, error) {
	h := MonitoringPlotHistory{
		PlotID:        plot.ID,
		SiteID:        plot.SiteID,
		SiteHistoryID: siteHistoryID,
	}
	if plot.SubzoneID != nil {
		subzone, ok := tx.FindSubzone(*plot.SubzoneID)
		if !ok {
			return MonitoringPlotHistory{}, domain.NotFound(domain.EntityPlantingSubzone, *plot.SubzoneID)
		}
		h.SubzoneID = ptr(subzone.ID)
		h.SubzoneName = subzone.Name
		h.SubzoneFullName = subzone.FullName
		if zone, ok := tx.FindZone(subzone.ZoneID); ok {
			h.ZoneID = ptr(zone.ID)
			h.ZoneName = zone.Name
		}
	}
	return tx.CreatePlotHistory(h)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }
