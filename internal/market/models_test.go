package market

import (
	"testing"
	"time"
)

func TestWindowForAlignsToUTCMidnight(t *testing.T) {
	size := 24 * time.Hour
	loc := time.FixedZone("AEST", 10*3600)
	moment := time.Date(2026, 8, 20, 8, 30, 0, 0, loc) // 2026-08-19T22:30Z

	w := WindowFor(moment, size)
	if !w.Start.Equal(time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v, want 2026-08-19T00:00:00Z", w.Start)
	}
	if !w.End.Equal(w.Start.Add(size)) {
		t.Errorf("End = %v, want Start+24h", w.End)
	}
	if !w.Contains(moment.UTC()) {
		t.Error("window does not contain the moment it was derived from")
	}
}

func TestWindowBoundaries(t *testing.T) {
	w := WindowFor(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), 24*time.Hour)

	if !w.Contains(w.Start) {
		t.Error("start must be inclusive")
	}
	if w.Contains(w.End) {
		t.Error("end must be exclusive")
	}

	prev := w.Previous()
	if !prev.End.Equal(w.Start) {
		t.Errorf("previous window must abut: %v vs %v", prev.End, w.Start)
	}
}

func TestParseRouteKey(t *testing.T) {
	tests := []struct {
		key     string
		want    Route
		wantErr bool
	}{
		{key: "SYD-MEL", want: Route{Origin: "SYD", Destination: "MEL"}},
		{key: "syd-mel", want: Route{Origin: "SYD", Destination: "MEL"}},
		{key: " BNE-PER ", want: Route{Origin: "BNE", Destination: "PER"}},
		{key: "SYDMEL", wantErr: true},
		{key: "SYD-", wantErr: true},
		{key: "-MEL", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRouteKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRouteKey(%q) expected error", tt.key)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRouteKey(%q): %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRouteKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestParseSource(t *testing.T) {
	if s, err := ParseSource(" sample "); err != nil || s != SourceSample {
		t.Errorf("ParseSource(sample) = %v, %v", s, err)
	}
	if _, err := ParseSource("TELEPORT"); !IsNormalizationError(err, ErrKindUnknownSource) {
		t.Errorf("expected unknown source error, got %v", err)
	}
}

func TestDemandLevelUpgrade(t *testing.T) {
	if DemandLow.Upgrade() != DemandMedium {
		t.Error("LOW should upgrade to MEDIUM")
	}
	if DemandMedium.Upgrade() != DemandHigh {
		t.Error("MEDIUM should upgrade to HIGH")
	}
	if DemandHigh.Upgrade() != DemandHigh {
		t.Error("HIGH should stay HIGH")
	}
}
