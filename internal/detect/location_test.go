package detect

import (
	"testing"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

var homePoint = Point{Lat: -23.5505, Lon: -46.6333}

func locEvent(at time.Time, lat, lon, speed float64) *telemetry.Event {
	return &telemetry.Event{
		Kind:       telemetry.KindLocation,
		UserID:     "kid-1",
		OccurredAt: at,
		Location:   &telemetry.Location{Lat: lat, Lon: lon, SpeedKMH: speed},
	}
}

// homeFixes fabricates one daily noon fix near home, jittered by ~50 m so
// they all land in one cluster.
func homeFixes(days int, start time.Time) []Fix {
	out := make([]Fix, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, Fix{
			At:  start.AddDate(0, 0, i).Add(12 * time.Hour),
			Lat: homePoint.Lat + float64(i%2)*0.0005,
			Lon: homePoint.Lon,
		})
	}
	return out
}

func TestFarFromHome(t *testing.T) {
	d := &LocationDetector{}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // a Sunday
	dc := &Context{TZ: time.UTC, RecentFixes: homeFixes(20, start)}

	// Saturday noon, ~15 km north of the learned home cluster.
	at := time.Date(2026, 3, 21, 12, 0, 0, 0, time.UTC)
	cands := d.Detect(locEvent(at, homePoint.Lat+0.135, homePoint.Lon, 0), dc)

	c := findType(t, cands, alert.TypeFarFromHome)
	if c.Priority != alert.PriorityMedium {
		t.Fatalf("Priority = %s, want medium", c.Priority)
	}
	ev, ok := c.Evidence.(alert.LocationEvidence)
	if !ok {
		t.Fatalf("Evidence = %T, want LocationEvidence", c.Evidence)
	}
	if ev.DistanceKM < 14 || ev.DistanceKM > 16 {
		t.Fatalf("DistanceKM = %.1f, want ~15", ev.DistanceKM)
	}
	if hasType(cands, alert.TypeNightLocation) {
		t.Fatalf("noon fix must not raise night_location")
	}
	if hasType(cands, alert.TypeSchoolAbsence) {
		t.Fatalf("weekend fix must not raise school_absence")
	}
}

func TestFarFromHomeNeedsCluster(t *testing.T) {
	d := &LocationDetector{}
	dc := &Context{TZ: time.UTC, RecentFixes: nil}

	at := time.Date(2026, 3, 21, 12, 0, 0, 0, time.UTC)
	cands := d.Detect(locEvent(at, homePoint.Lat+0.135, homePoint.Lon, 0), dc)
	if hasType(cands, alert.TypeFarFromHome) {
		t.Fatalf("no learned home cluster, far_from_home must stay quiet")
	}
}

func TestNightAwayFromHome(t *testing.T) {
	d := &LocationDetector{}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dc := &Context{TZ: time.UTC, RecentFixes: homeFixes(10, start)}

	// 23:30, ~1 km from home.
	at := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	cands := d.Detect(locEvent(at, homePoint.Lat+0.009, homePoint.Lon, 0), dc)

	c := findType(t, cands, alert.TypeNightLocation)
	if c.Priority != alert.PriorityMedium {
		t.Fatalf("Priority = %s, want medium", c.Priority)
	}
	if hasType(cands, alert.TypeFarFromHome) {
		t.Fatalf("1 km away must not raise far_from_home")
	}

	// Same hour at home stays quiet.
	cands = d.Detect(locEvent(at, homePoint.Lat, homePoint.Lon, 0), dc)
	if hasType(cands, alert.TypeNightLocation) {
		t.Fatalf("fix inside the home cluster must not raise night_location")
	}
}

func TestSpeeding(t *testing.T) {
	d := &LocationDetector{}
	at := time.Date(2026, 3, 21, 12, 0, 0, 0, time.UTC)

	// Device-reported speed.
	cands := d.Detect(locEvent(at, 0, 0, 95), &Context{TZ: time.UTC})
	c := findType(t, cands, alert.TypeSpeeding)
	ev := c.Evidence.(alert.LocationEvidence)
	if ev.SpeedKMH != 95 {
		t.Fatalf("SpeedKMH = %.1f, want 95", ev.SpeedKMH)
	}

	// Derived speed: ~15 km in 10 minutes is ~90 km/h.
	dc := &Context{TZ: time.UTC, RecentFixes: []Fix{
		{At: at.Add(-10 * time.Minute), Lat: 0, Lon: 0},
	}}
	cands = d.Detect(locEvent(at, 0.135, 0, 0), dc)
	if !hasType(cands, alert.TypeSpeeding) {
		t.Fatalf("derived speed ~90 km/h should raise speeding")
	}

	// Walking pace stays quiet.
	cands = d.Detect(locEvent(at, 0, 0, 4), &Context{TZ: time.UTC})
	if hasType(cands, alert.TypeSpeeding) {
		t.Fatalf("4 km/h should not raise speeding")
	}
}

func TestDangerZoneEntryIsCritical(t *testing.T) {
	d := &LocationDetector{}
	at := time.Date(2026, 3, 21, 12, 0, 0, 0, time.UTC)
	dc := &Context{TZ: time.UTC, Zones: []DangerZone{
		{Name: "riverside bar strip", Lat: 10, Lon: 10, RadiusKM: 0.5},
	}}

	cands := d.Detect(locEvent(at, 10.001, 10, 0), dc)
	c := findType(t, cands, alert.TypeDangerZone)
	if c.Priority != alert.PriorityCritical {
		t.Fatalf("Priority = %s, want critical", c.Priority)
	}
	ev := c.Evidence.(alert.LocationEvidence)
	if ev.Zone != "riverside bar strip" {
		t.Fatalf("Zone = %q", ev.Zone)
	}

	cands = d.Detect(locEvent(at, 11, 10, 0), dc)
	if hasType(cands, alert.TypeDangerZone) {
		t.Fatalf("fix outside the zone must stay quiet")
	}
}

func TestSchoolAbsence(t *testing.T) {
	d := &LocationDetector{}
	school := Point{Lat: -23.60, Lon: -46.70}

	// Weekday 10:00 fixes at school for two work weeks.
	var fixes []Fix
	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	for i := 0; i < 14; i++ {
		at := day.AddDate(0, 0, i)
		if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		fixes = append(fixes, Fix{At: at, Lat: school.Lat, Lon: school.Lon})
	}
	dc := &Context{TZ: time.UTC, RecentFixes: fixes}

	// Tuesday 10:00, ~5 km from school.
	at := time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC)
	cands := d.Detect(locEvent(at, school.Lat+0.045, school.Lon, 0), dc)
	c := findType(t, cands, alert.TypeSchoolAbsence)
	if c.Priority != alert.PriorityMedium {
		t.Fatalf("Priority = %s, want medium", c.Priority)
	}

	// The same fix on Saturday stays quiet.
	sat := time.Date(2026, 3, 21, 10, 0, 0, 0, time.UTC)
	cands = d.Detect(locEvent(sat, school.Lat+0.045, school.Lon, 0), dc)
	if hasType(cands, alert.TypeSchoolAbsence) {
		t.Fatalf("weekend fix must not raise school_absence")
	}
}
