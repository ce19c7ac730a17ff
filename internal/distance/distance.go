// Package distance converts proximity signals into meters. Every
// signal-to-distance conversion in the module goes through Estimate so that
// rankings from different sources stay comparable.
package distance

import "math"

const (
	// DefaultTxPower is the calibrated signal strength at one meter.
	DefaultTxPower = -59.0
	// DefaultPathLoss is the free-space path-loss exponent.
	DefaultPathLoss = 2.0

	earthRadius = 6371e3 // meters
)

// Calibration holds the constants of the log-distance path-loss model.
type Calibration struct {
	TxPower  float64
	PathLoss float64
}

// DefaultCalibration returns TxPower -59 and path-loss exponent 2.
func DefaultCalibration() Calibration {
	return Calibration{TxPower: DefaultTxPower, PathLoss: DefaultPathLoss}
}

// Estimate returns 10^((txPower - rssi) / (10 * n)) rounded to two decimals.
// A non-positive n falls back to DefaultPathLoss.
func Estimate(rssi, txPower, n float64) float64 {
	if n <= 0 {
		n = DefaultPathLoss
	}
	d := math.Pow(10, (txPower-rssi)/(10*n))
	return round2(d)
}

// Estimate applies the calibration to rssi.
func (c Calibration) Estimate(rssi float64) float64 {
	return Estimate(rssi, c.TxPower, c.PathLoss)
}

// Haversine returns the great-circle distance in whole meters between two
// latitude/longitude pairs given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadius * c)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
