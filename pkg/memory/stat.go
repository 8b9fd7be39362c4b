package memory

const (
	statDecay       = 0.9
	minimumEstimate = 1024
)

// stat keeps the moving average of unloaded sizes for one object type.
type stat struct {
	acc     float64
	samples int
}

func (s *stat) add(size int64) {
	s.acc = s.acc*statDecay + float64(size)*(1-statDecay)
	s.samples++
}

// estimate returns the size hint for objects registered without one.
func (s *stat) estimate() int64 {
	e := int64(s.acc * (1 - statDecay) / statDecay)
	if e < minimumEstimate {
		return minimumEstimate
	}
	return e
}
