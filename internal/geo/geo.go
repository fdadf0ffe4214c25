// Package geo computes distance and bearing between node coordinates.
package geo

import "math"

const earthRadiusKM = 6371

// DistanceKM returns the haversine distance between two coordinates in
// kilometers, rounded to three decimal places.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := radians(lat1)
	rlat2 := radians(lat2)
	lonDelta := radians(lon2 - lon1)

	d := 2 * earthRadiusKM * math.Asin(math.Sqrt(
		hav(rlat2-rlat1)+math.Cos(rlat1)*math.Cos(rlat2)*hav(lonDelta)))
	return round(d, 3)
}

// Bearing returns the initial bearing from the first coordinate to the
// second in degrees, normalized to [0, 360) and rounded to one decimal.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := radians(lat1)
	rlat2 := radians(lat2)
	lonDelta := radians(lon2 - lon1)

	b := math.Atan2(
		math.Sin(lonDelta)*math.Cos(rlat2),
		math.Cos(rlat1)*math.Sin(rlat2)-math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(lonDelta))
	if b < 0 {
		b += 2 * math.Pi
	}
	deg := round(degrees(b), 1)
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

func hav(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
