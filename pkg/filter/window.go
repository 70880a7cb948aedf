package filter

// Window is a fixed-size history of raw values, oldest first. It starts
// zero-filled, so early statistics are pulled towards zero until the window
// has seen N values.
type Window struct {
	values []uint16
}

// NewWindow creates a zero-filled window of size n (at least 1).
func NewWindow(n int) *Window {
	return &Window{values: make([]uint16, max(n, 1))}
}

// Push discards the oldest value and appends v.
func (w *Window) Push(v uint16) {
	copy(w.values, w.values[1:])
	w.values[len(w.values)-1] = v
}

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []uint16 {
	out := make([]uint16, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the window size.
func (w *Window) Len() int {
	return len(w.values)
}

// Result holds the statistics of one window evaluation.
type Result struct {
	Mean      int // Plain mean over the window, truncated
	Tolerance int // Half-width of the acceptance band
	Count     int // Entries strictly inside the band
	Value     int // Mean of the accepted entries, or 0 when none
}

// Compute evaluates values with a tolerance of pct percent of the mean.
//
// Entries v with mean-tol < v < mean+tol are averaged. All arithmetic is
// integer and truncating.
func Compute(values []uint16, pct int) Result {
	if len(values) == 0 {
		return Result{}
	}

	sum := 0
	for _, v := range values {
		sum += int(v)
	}
	r := Result{Mean: sum / len(values)}
	r.Tolerance = r.Mean * pct / 100

	lo, hi := r.Mean-r.Tolerance, r.Mean+r.Tolerance
	accepted := 0
	for _, v := range values {
		if x := int(v); x > lo && x < hi {
			accepted += x
			r.Count++
		}
	}
	if r.Count > 0 {
		r.Value = accepted / r.Count
	}
	return r
}
