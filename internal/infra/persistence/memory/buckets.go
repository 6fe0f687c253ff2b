package memory

import (
	"encoding/json"
	"fmt"
)

// BucketNames lists the snapshot buckets in persistence order. Durable stores
// keep one row per bucket.
var BucketNames = []string{
	"sites",
	"site_histories",
	"zones",
	"subzones",
	"plots",
	"plot_histories",
	"latest_plot_histories",
	"species",
	"observations",
	"observation_plots",
	"recorded_plants",
	"species_totals",
	"plot_t0_densities",
	"zone_t0_densities",
	"plot_t0_observations",
	"sequence",
}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		"sites":                 &s.Sites,
		"site_histories":        &s.SiteHistories,
		"zones":                 &s.Zones,
		"subzones":              &s.Subzones,
		"plots":                 &s.Plots,
		"plot_histories":        &s.PlotHistories,
		"latest_plot_histories": &s.LatestPlotHistories,
		"species":               &s.Species,
		"observations":          &s.Observations,
		"observation_plots":     &s.ObservationPlots,
		"recorded_plants":       &s.RecordedPlants,
		"species_totals":        &s.SpeciesTotals,
		"plot_t0_densities":     &s.PlotT0Densities,
		"zone_t0_densities":     &s.ZoneT0Densities,
		"plot_t0_observations":  &s.PlotT0Observations,
		"sequence":              &s.Sequence,
	}
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	targets := s.bucketTargets()
	out := make(map[string][]byte, len(BucketNames))
	for _, bucket := range BucketNames {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals one persisted bucket into the snapshot. Unknown
// buckets and empty payloads are ignored so older databases keep loading.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.bucketTargets()[bucket]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
