package mathx

import "golang.org/x/exp/constraints"

// Map maps x in [inMin,inMax] linearly onto [outMin,outMax], clamping to the
// output range. A degenerate input range yields outMin.
func Map[T constraints.Float](x, inMin, inMax, outMin, outMax T) T {
	if inMax == inMin {
		return outMin
	}
	y := outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
	return Clamp(y, outMin, outMax)
}
