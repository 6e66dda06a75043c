package detect

import (
	"fmt"

	"nestwatch/internal/alert"
	"nestwatch/internal/telemetry"
)

const (
	mediaNightStartHour = 23
	mediaNightEndHour   = 6

	largeVideoBytes = 100 << 20 // 100 MB
)

// MediaDetector flags late-night captures, downloaded items and oversized
// videos.
type MediaDetector struct{}

func (d *MediaDetector) Name() string { return "media" }

func (d *MediaDetector) Detect(ev *telemetry.Event, dc *Context) []alert.Candidate {
	if ev == nil || ev.Kind != telemetry.KindMedia || ev.Media == nil {
		return nil
	}
	m := ev.Media
	hour := ev.OccurredAt.In(dc.tz()).Hour()

	var out []alert.Candidate
	emit := func(typ alert.Type, prio alert.Priority, title, desc string) {
		out = append(out, alert.Candidate{
			Type:        typ,
			Priority:    prio,
			Title:       title,
			Description: desc,
			Evidence: alert.MediaEvidence{
				FileName:  m.FileName,
				MimeType:  m.MimeType,
				Origin:    m.Origin,
				SizeBytes: m.SizeBytes,
				LocalHour: hour,
			},
			UserID:     ev.UserID,
			DeviceID:   ev.DeviceID,
			OccurredAt: ev.OccurredAt,
		})
	}

	if hour >= mediaNightStartHour || hour < mediaNightEndHour {
		emit(alert.TypeNightMedia, alert.PriorityMedium,
			"Media captured late at night",
			fmt.Sprintf("%s captured at %02d:00 local time", m.FileName, hour))
	}

	if m.Origin == "downloaded" {
		emit(alert.TypeDownloadedMedia, alert.PriorityLow,
			"Downloaded media item",
			fmt.Sprintf("%s was downloaded to the device", m.FileName))
	}

	if m.IsVideo() && m.SizeBytes > largeVideoBytes {
		emit(alert.TypeLargeVideo, alert.PriorityMedium,
			"Large video file",
			fmt.Sprintf("%s is %d MB", m.FileName, m.SizeBytes>>20))
	}

	return out
}
