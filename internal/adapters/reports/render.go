package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"restorationcore/internal/core"
)

// table is a flat rendering shared by the CSV and XLSX encoders.
type table struct {
	name   string
	header []string
	rows   [][]string
}

var speciesColumns = []string{
	"level", "zone", "subzone", "plot", "species",
	"live", "dead", "existing", "mortality_rate", "cumulative_dead", "permanent_live", "survival_rate",
}

var plotColumns = []string{
	"zone", "subzone", "plot", "status", "permanent", "excluded_from_totals",
	"completed_by", "completed_at", "observed_at", "notes",
}

var summaryColumns = []string{
	"level", "zone_id", "subzone", "observation_id", "completed_at", "species",
	"live", "dead", "existing", "mortality_rate", "cumulative_dead", "permanent_live", "survival_rate",
}

// speciesNamer labels species lines. Known species resolve through the
// catalog; lookups are cached for the lifetime of one rendering.
type speciesNamer struct {
	ctx     context.Context
	catalog core.SpeciesCatalog
	cache   map[string]string
}

func newSpeciesNamer(ctx context.Context, catalog core.SpeciesCatalog) *speciesNamer {
	return &speciesNamer{ctx: ctx, catalog: catalog, cache: make(map[string]string)}
}

func (n *speciesNamer) label(key core.SpeciesKey) string {
	switch {
	case key.IsUnknown():
		return "Unknown"
	case key.IsOther():
		return "Other: " + key.Name
	}
	if name, ok := n.cache[key.SpeciesID]; ok {
		return name
	}
	name := key.SpeciesID
	if n.catalog != nil {
		if sp, ok, err := n.catalog.FindSpecies(n.ctx, key.SpeciesID); err == nil && ok && sp.ScientificName != "" {
			name = sp.ScientificName
		}
	}
	n.cache[key.SpeciesID] = name
	return name
}

func metricCells(live, dead, existing int, mortality *int, cumulativeDead, permanentLive int, survival *int) []string {
	return []string{
		strconv.Itoa(live),
		strconv.Itoa(dead),
		strconv.Itoa(existing),
		optionalInt(mortality),
		strconv.Itoa(cumulativeDead),
		strconv.Itoa(permanentLive),
		optionalInt(survival),
	}
}

func speciesCells(r core.SpeciesResult) []string {
	return metricCells(r.TotalLive, r.TotalDead, r.TotalExisting, r.MortalityRate, r.CumulativeDead, r.PermanentLive, r.SurvivalRate)
}

func totalsCells(t core.ScopeTotals) []string {
	return metricCells(t.TotalLive, t.TotalDead, t.TotalExisting, t.MortalityRate, t.CumulativeDead, t.PermanentLive, t.SurvivalRate)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// observationTables flattens a results tree. Each scope contributes its
// species lines followed by a "total" line.
func observationTables(res core.ObservationResults, names *speciesNamer) []table {
	species := table{name: "Species", header: speciesColumns}
	plots := table{name: "Plots", header: plotColumns}

	add := func(level, zone, subzone, plot string, lines []core.SpeciesResult, totals core.ScopeTotals) {
		for _, line := range lines {
			species.rows = append(species.rows, append([]string{level, zone, subzone, plot, names.label(line.Species)}, speciesCells(line)...))
		}
		species.rows = append(species.rows, append([]string{level, zone, subzone, plot, "total"}, totalsCells(totals)...))
	}
	addPlot := func(zone, subzone string, p core.PlotResults) {
		number := strconv.FormatInt(p.PlotNumber, 10)
		add("plot", zone, subzone, number, p.Species, p.Totals)
		plots.rows = append(plots.rows, []string{
			zone, subzone, number, string(p.Status),
			strconv.FormatBool(p.IsPermanent), strconv.FormatBool(p.ExcludedFromTotals),
			optionalString(p.CompletedBy), optionalTime(p.CompletedAt), optionalTime(p.ObservedAt), p.Notes,
		})
	}

	if !res.Observation.IsAdHoc {
		add("site", "", "", "", res.Species, res.Totals)
	}
	for _, z := range res.Zones {
		add("zone", z.Name, "", "", z.Species, z.Totals)
		for _, sz := range z.Subzones {
			add("subzone", z.Name, sz.FullName, "", sz.Species, sz.Totals)
			for _, p := range sz.Plots {
				addPlot(z.Name, sz.FullName, p)
			}
		}
	}
	for _, p := range res.UnassignedPlots {
		addPlot("", "", p)
	}
	return []table{species, plots}
}

func summaryTables(sum core.SiteSummary, names *speciesNamer) []table {
	t := table{name: "Summary", header: summaryColumns}
	add := func(level, zoneID, subzone, observationID, completedAt string, lines []core.SpeciesResult, totals core.ScopeTotals) {
		for _, line := range lines {
			t.rows = append(t.rows, append([]string{level, zoneID, subzone, observationID, completedAt, names.label(line.Species)}, speciesCells(line)...))
		}
		t.rows = append(t.rows, append([]string{level, zoneID, subzone, observationID, completedAt, "total"}, totalsCells(totals)...))
	}
	add("site", "", "", "", "", sum.Species, sum.Totals)
	for _, sz := range sum.Subzones {
		add("subzone", sz.ZoneID, sz.Name, sz.ObservationID, optionalTime(sz.CompletedAt), sz.Species, sz.Totals)
	}
	return []table{t}
}

func encodeJSON(v any) ([]byte, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return payload, nil
}

// encodeCSV writes the first table only; secondary sheets are XLSX-only.
func encodeCSV(tables []table) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if len(tables) > 0 {
		if err := writer.Write(tables[0].header); err != nil {
			return nil, err
		}
		if err := writer.WriteAll(tables[0].rows); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeXLSX writes one worksheet per table with a bold, frozen header row.
// Numeric cells are written as numbers so spreadsheet formulas work on them.
func encodeXLSX(tables []table) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), t.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(t.name); err != nil {
			return nil, err
		}
		if err := writeSheetRow(f, t.name, 1, t.header); err != nil {
			return nil, err
		}
		for r, row := range t.rows {
			if err := writeSheetRow(f, t.name, r+2, row); err != nil {
				return nil, err
			}
		}
		if err := f.SetRowStyle(t.name, 1, 1, bold); err != nil {
			return nil, err
		}
		if err := f.SetPanes(t.name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheetRow(f *excelize.File, sheet string, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		if n, err := strconv.Atoi(c); err == nil && row > 1 {
			values[i] = n
		} else {
			values[i] = c
		}
	}
	return f.SetSheetRow(sheet, cell, &values)
}
