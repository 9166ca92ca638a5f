package internaldefs

import (
	"strconv"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
)

func TestBoundsMatchEngineHistogram(t *testing.T) {
	for i, ms := range authgate.HistogramBounds {
		want := strconv.FormatFloat(ms/1000, 'g', -1, 64)
		if HistogramBounds[i] != want {
			t.Fatalf("bound %d: got %q, want %q", i, HistogramBounds[i], want)
		}
		if HistogramBoundSuffix[i] != strings.ReplaceAll(want, ".", "_") {
			t.Fatalf("suffix %d: got %q", i, HistogramBoundSuffix[i])
		}
	}
	if HistogramBounds[BucketCount-1] != "+Inf" {
		t.Fatalf("last bound must be +Inf")
	}
}

func TestEveryCounterExported(t *testing.T) {
	seen := map[authgate.MetricID]bool{}
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate counter %s", def.ID)
		}
		seen[def.ID] = true
		if !strings.HasPrefix(def.Name, "authgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
	}
	for _, def := range HistogramDefs {
		seen[def.ID] = true
	}
	for _, id := range authgate.MetricIDs() {
		if !seen[id] {
			t.Fatalf("metric %s has no export definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
