package detect

import (
	"fmt"
	"time"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

const (
	clusterJoinRadiusKM = 0.2
	clusterMinMembers   = 5

	// ClusterWindow bounds the history used for home/school learning.
	ClusterWindow = 30 * 24 * time.Hour

	speedLimitKMH = 80.0
	farFromHomeKM = 10.0

	// Night fixes 22:00-06:00 local time outside the home cluster.
	locationNightStartHour = 22
	locationNightEndHour   = 6

	// Weekday school hours and the allowed distance from the school cluster.
	schoolStartHour = 7
	schoolEndHour   = 17
	schoolAbsenceKM = 2.0
)

// LocationDetector flags location fixes that break learned movement
// baselines: away from home at night, excessive speed, far from home,
// inside a danger zone, or away from school during school hours.
type LocationDetector struct{}

func (d *LocationDetector) Name() string { return "location" }

func (d *LocationDetector) Detect(ev *telemetry.Event, dc *Context) []alert.Candidate {
	if ev == nil || ev.Kind != telemetry.KindLocation || ev.Location == nil {
		return nil
	}
	fix := ev.Location
	here := Point{Lat: fix.Lat, Lon: fix.Lon}
	local := ev.OccurredAt.In(dc.tz())
	hour := local.Hour()

	var out []alert.Candidate
	emit := func(typ alert.Type, prio alert.Priority, title, desc string, evd alert.LocationEvidence) {
		evd.Lat = fix.Lat
		evd.Lon = fix.Lon
		out = append(out, alert.Candidate{
			Type:        typ,
			Priority:    prio,
			Title:       title,
			Description: desc,
			Evidence:    evd,
			UserID:      ev.UserID,
			DeviceID:    ev.DeviceID,
			OccurredAt:  ev.OccurredAt,
		})
	}

	home, hasHome := LearnCluster(dc.RecentFixes, clusterJoinRadiusKM, clusterMinMembers, nil)

	if hasHome {
		dist := HaversineKM(home, here)

		if (hour >= locationNightStartHour || hour < locationNightEndHour) && dist > clusterJoinRadiusKM {
			emit(alert.TypeNightLocation, alert.PriorityMedium,
				"Away from home at night",
				fmt.Sprintf("Device was %.1f km from home at %02d:%02d", dist, hour, local.Minute()),
				alert.LocationEvidence{DistanceKM: round1(dist), ClusterLat: home.Lat, ClusterLon: home.Lon, LocalHour: hour})
		}

		if dist > farFromHomeKM {
			emit(alert.TypeFarFromHome, alert.PriorityMedium,
				"Far from home",
				fmt.Sprintf("Device is %.1f km from the learned home area", dist),
				alert.LocationEvidence{DistanceKM: round1(dist), ClusterLat: home.Lat, ClusterLon: home.Lon})
		}
	}

	if spd := instantSpeed(fix, ev.OccurredAt, dc.RecentFixes); spd > speedLimitKMH {
		emit(alert.TypeSpeeding, alert.PriorityMedium,
			"High speed detected",
			fmt.Sprintf("Moving at %.0f km/h", spd),
			alert.LocationEvidence{SpeedKMH: round1(spd)})
	}

	for i := range dc.Zones {
		z := &dc.Zones[i]
		if z.Contains(here) {
			emit(alert.TypeDangerZone, alert.PriorityCritical,
				"Entered a danger zone",
				fmt.Sprintf("Device entered %q", z.Name),
				alert.LocationEvidence{Zone: z.Name})
		}
	}

	wd := local.Weekday()
	if wd >= time.Monday && wd <= time.Friday && hour >= schoolStartHour && hour < schoolEndHour {
		school, ok := LearnCluster(dc.RecentFixes, clusterJoinRadiusKM, clusterMinMembers, func(f Fix) bool {
			lt := f.At.In(dc.tz())
			w := lt.Weekday()
			h := lt.Hour()
			return w >= time.Monday && w <= time.Friday && h >= schoolStartHour && h < schoolEndHour
		})
		if ok {
			if dist := HaversineKM(school, here); dist > schoolAbsenceKM {
				emit(alert.TypeSchoolAbsence, alert.PriorityMedium,
					"Away from school during school hours",
					fmt.Sprintf("Device is %.1f km from the usual school area", dist),
					alert.LocationEvidence{DistanceKM: round1(dist), ClusterLat: school.Lat, ClusterLon: school.Lon, LocalHour: hour})
			}
		}
	}

	return out
}

// instantSpeed prefers the device-reported speed; when the fix carries none
// it derives one from the previous fix.
func instantSpeed(fix *telemetry.Location, at time.Time, history []Fix) float64 {
	if fix.SpeedKMH > 0 {
		return fix.SpeedKMH
	}
	if len(history) == 0 {
		return 0
	}
	prev := history[len(history)-1]
	dt := at.Sub(prev.At).Hours()
	if dt <= 0 {
		return 0
	}
	dist := HaversineKM(Point{Lat: prev.Lat, Lon: prev.Lon}, Point{Lat: fix.Lat, Lon: fix.Lon})
	return dist / dt
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
