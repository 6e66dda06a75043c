package detect

import "math"

const earthRadiusKM = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// HaversineKM returns the great-circle distance between two points in km.
func HaversineKM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

type geoCluster struct {
	centroid Point
	count    int
}

func (c *geoCluster) add(p Point) {
	// Running mean keeps the centroid stable without storing members.
	n := float64(c.count)
	c.centroid.Lat = (c.centroid.Lat*n + p.Lat) / (n + 1)
	c.centroid.Lon = (c.centroid.Lon*n + p.Lon) / (n + 1)
	c.count++
}

// LearnCluster finds the most populous cluster among the given fixes using
// greedy joining: a fix joins the first cluster whose centroid is within
// joinRadiusKM, otherwise it seeds a new one. The filter (optional) selects
// which fixes participate. Returns ok=false when no cluster reaches
// minMembers.
func LearnCluster(fixes []Fix, joinRadiusKM float64, minMembers int, filter func(Fix) bool) (Point, bool) {
	var clusters []*geoCluster
	for _, f := range fixes {
		if filter != nil && !filter(f) {
			continue
		}
		p := Point{Lat: f.Lat, Lon: f.Lon}
		joined := false
		for _, c := range clusters {
			if HaversineKM(c.centroid, p) <= joinRadiusKM {
				c.add(p)
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, &geoCluster{centroid: p, count: 1})
		}
	}

	var best *geoCluster
	for _, c := range clusters {
		if best == nil || c.count > best.count {
			best = c
		}
	}
	if best == nil || best.count < minMembers {
		return Point{}, false
	}
	return best.centroid, true
}

// DangerZone is a guardian-defined area that must trigger an alert on entry.
// Either a circle (Lat/Lon/RadiusKM) or a polygon (>= 3 vertices); the
// polygon wins when both are set.
type DangerZone struct {
	Name     string
	Lat      float64
	Lon      float64
	RadiusKM float64
	Polygon  []Point
}

func (z *DangerZone) Contains(p Point) bool {
	if len(z.Polygon) >= 3 {
		return pointInPolygon(p, z.Polygon)
	}
	if z.RadiusKM <= 0 {
		return false
	}
	return HaversineKM(Point{Lat: z.Lat, Lon: z.Lon}, p) <= z.RadiusKM
}

// pointInPolygon uses the even-odd ray casting rule on raw lat/lon, which is
// accurate enough for neighborhood-scale zones.
func pointInPolygon(p Point, poly []Point) bool {
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Lon > p.Lon) != (pj.Lon > p.Lon) &&
			p.Lat < (pj.Lat-pi.Lat)*(p.Lon-pi.Lon)/(pj.Lon-pi.Lon)+pi.Lat {
			inside = !inside
		}
		j = i
	}
	return inside
}
