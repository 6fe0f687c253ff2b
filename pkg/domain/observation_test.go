package domain

import "testing"

func TestObservationStateTransitions(t *testing.T) {
	allowed := [][2]ObservationState{
		{ObservationUpcoming, ObservationInProgress},
		{ObservationInProgress, ObservationCompleted},
		{ObservationInProgress, ObservationAbandoned},
		{ObservationInProgress, ObservationUpcoming},
		{ObservationCompleted, ObservationCompleted},
	}
	for _, tc := range allowed {
		if !tc[0].CanTransition(tc[1]) {
			t.Fatalf("expected %s -> %s to be allowed", tc[0], tc[1])
		}
	}
	denied := [][2]ObservationState{
		{ObservationUpcoming, ObservationCompleted},
		{ObservationCompleted, ObservationUpcoming},
		{ObservationCompleted, ObservationInProgress},
		{ObservationAbandoned, ObservationCompleted},
	}
	for _, tc := range denied {
		if tc[0].CanTransition(tc[1]) {
			t.Fatalf("expected %s -> %s to be rejected", tc[0], tc[1])
		}
	}
	if !ObservationCompleted.Terminal() || !ObservationAbandoned.Terminal() || ObservationInProgress.Terminal() {
		t.Fatalf("terminal classification mismatch")
	}
	if ObservationState("paused").Valid() || !ObservationUpcoming.Valid() {
		t.Fatalf("validity mismatch")
	}
}

func TestObservationPlotStatusTransitions(t *testing.T) {
	if !PlotUnclaimed.CanTransition(PlotClaimed) || !PlotClaimed.CanTransition(PlotUnclaimed) {
		t.Fatalf("expected claim/release transitions")
	}
	if !PlotClaimed.CanTransition(PlotNotObserved) || !PlotUnclaimed.CanTransition(PlotCompleted) {
		t.Fatalf("expected completion transitions")
	}
	if PlotCompleted.CanTransition(PlotClaimed) || PlotNotObserved.CanTransition(PlotUnclaimed) {
		t.Fatalf("terminal plot statuses must not reopen")
	}
	if !PlotCompleted.Terminal() || !PlotNotObserved.Terminal() || PlotClaimed.Terminal() {
		t.Fatalf("terminal classification mismatch")
	}
	if ObservationPlotStatus("lost").Valid() || !PlantDead.Valid() || PlantStatus("gone").Valid() {
		t.Fatalf("validity mismatch")
	}
}

func TestRates(t *testing.T) {
	if got := MortalityRate(0, 0); got != nil {
		t.Fatalf("expected nil, got %d", *got)
	}
	if got := MortalityRate(2, 1); got == nil || *got != 33 {
		t.Fatalf("expected 33, got %v", got)
	}
	if got := MortalityRate(5, 0); got == nil || *got != 0 {
		t.Fatalf("expected explicit zero mortality, got %v", got)
	}
	if SurvivalRate(9, 0) != nil || SurvivalRate(9, -1) != nil {
		t.Fatalf("expected absent survival without density")
	}
	if got := SurvivalRate(9, 10); got == nil || *got != 90 {
		t.Fatalf("expected 90, got %v", got)
	}
	if got := SurvivalRate(1, 3); got == nil || *got != 33 {
		t.Fatalf("expected 33, got %v", got)
	}
}

func TestSpeciesTotalsKey(t *testing.T) {
	row := SpeciesTotals{ObservationID: "o", Level: LevelZone, ScopeID: "z", Species: KnownSpecies("s")}
	if row.Key() != (TotalsKey{Level: LevelZone, ScopeID: "z", Species: KnownSpecies("s")}) {
		t.Fatalf("unexpected key %+v", row.Key())
	}
}
