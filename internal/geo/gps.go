package geo

import "math"

// metersPerDegLat is the approximate length of one degree of latitude.
const metersPerDegLat = 111_111.0

// GeoPoint is a global position. AltitudeMeters is height above sea level,
// positive up (unlike the NED Z axis).
type GeoPoint struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AltitudeMeters float64 `json:"altitude_meters"`
}

// GPSFromNED converts a world NED point to a GPS coordinate using a flat-earth
// offset from the mission's home point. Accurate enough for the few-kilometer
// extents a search scene covers.
func GPSFromNED(home GeoPoint, p WorldPoint) GeoPoint {
	lat := home.Latitude + p.X/metersPerDegLat
	lon := home.Longitude + p.Y/(metersPerDegLat*math.Cos(home.Latitude*math.Pi/180))
	return GeoPoint{
		Latitude:       lat,
		Longitude:      lon,
		AltitudeMeters: home.AltitudeMeters - p.Z,
	}
}

// NEDFromGPS is the inverse of GPSFromNED.
func NEDFromGPS(home, target GeoPoint) WorldPoint {
	return WorldPoint{
		X: (target.Latitude - home.Latitude) * metersPerDegLat,
		Y: (target.Longitude - home.Longitude) * metersPerDegLat * math.Cos(home.Latitude*math.Pi/180),
		Z: home.AltitudeMeters - target.AltitudeMeters,
	}
}
