package fingerprint

import "math"

// Confidences are compared on a micro-unit grid so that Ce+0.1 is exact.
// In float64, 0.9+0.1 and 1.0-0.9 do not land where decimal arithmetic puts
// them, which would move the boundary depending on the stored value.
const (
	microScale  = 1e6
	mergeMargin = 100_000 // 0.1
	richFields  = 3
)

func micro(c float64) int64 { return int64(math.Round(c * microScale)) }

// ShouldUpdate decides whether an incoming submission replaces the stored
// metadata:
//
//	(Cn > Ce + 0.1) OR (|Cn - Ce| < 0.1 AND incomingFields > 3)
//
// Both inequalities are strict. A submission exactly 0.1 above the stored
// confidence is acknowledged, not applied.
func ShouldUpdate(existing, incoming float64, incomingFields int) bool {
	ce, cn := micro(existing), micro(incoming)
	diff := cn - ce
	if diff < 0 {
		diff = -diff
	}
	return cn > ce+mergeMargin || (diff < mergeMargin && incomingFields > richFields)
}
