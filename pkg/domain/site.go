package domain

import "time"

// PlantingSite is the root aggregate owning zones, subzones, and plots.
type PlantingSite struct {
	Base
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	// TimeZone is an IANA zone name; empty inherits the organization's zone.
	TimeZone string `json:"time_zone,omitempty"`
	// SurvivalRateIncludesTempPlots opts temporary plots into survival rates.
	SurvivalRateIncludesTempPlots bool   `json:"survival_rate_includes_temp_plots"`
	CurrentHistoryID              string `json:"current_history_id"`
}

// PlantingSiteHistory is one site-history epoch. A new epoch is appended on
// every map edit.
type PlantingSiteHistory struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PlantingZone is a geographic subdivision of a site.
type PlantingZone struct {
	Base
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

// PlantingSubzone is a geographic subdivision of a zone.
type PlantingSubzone struct {
	Base
	SiteID              string     `json:"site_id"`
	ZoneID              string     `json:"zone_id"`
	Name                string     `json:"name"`
	FullName            string     `json:"full_name"`
	PlantingCompletedAt *time.Time `json:"planting_completed_at,omitempty"`
	ObservedAt          *time.Time `json:"observed_at,omitempty"`
}

// MonitoringPlot is a fixed-size sampling unit.
type MonitoringPlot struct {
	Base
	SiteID              string   `json:"site_id"`
	SubzoneID           *string  `json:"subzone_id,omitempty"`
	PlotNumber          int64    `json:"plot_number"`
	SizeMeters          int      `json:"size_meters"`
	IsPermanent         bool     `json:"is_permanent"`
	IsAdHoc             bool     `json:"is_ad_hoc"`
	OverlapsPlotIDs     []string `json:"overlaps_plot_ids,omitempty"`
	OverlappedByPlotIDs []string `json:"overlapped_by_plot_ids,omitempty"`
}

// MonitoringPlotHistory binds a plot to the subzone and zone it belonged to
// as of one site-history epoch. Rows are append-only; names are copied so that
// deleted subzones and zones still resolve.
type MonitoringPlotHistory struct {
	ID              string    `json:"id"`
	PlotID          string    `json:"plot_id"`
	SiteID          string    `json:"site_id"`
	SiteHistoryID   string    `json:"site_history_id"`
	SubzoneID       *string   `json:"subzone_id,omitempty"`
	SubzoneName     string    `json:"subzone_name,omitempty"`
	SubzoneFullName string    `json:"subzone_full_name,omitempty"`
	ZoneID          *string   `json:"zone_id,omitempty"`
	ZoneName        string    `json:"zone_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Species is a species catalog entry.
type Species struct {
	Base
	OrganizationID string `json:"organization_id"`
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name,omitempty"`
}

// PlotT0Density is the baseline planting density for one species at a plot.
type PlotT0Density struct {
	PlotID    string  `json:"plot_id"`
	SpeciesID string  `json:"species_id"`
	Density   float64 `json:"density"`
	// ObservationID is set when the density was captured from a baseline observation.
	ObservationID *string   `json:"observation_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ZoneT0Density is the baseline density applied to temporary plots in a zone.
type ZoneT0Density struct {
	ZoneID    string    `json:"zone_id"`
	SpeciesID string    `json:"species_id"`
	Density   float64   `json:"density"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlotT0Observation designates the baseline observation of a plot.
type PlotT0Observation struct {
	PlotID        string    `json:"plot_id"`
	ObservationID string    `json:"observation_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}
