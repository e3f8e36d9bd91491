package scheduling

// Window is a half-open opening interval [Open, Close).
type Window struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// WorkingWindows are the morning and afternoon opening hours of the clinic.
var WorkingWindows = [...]Window{
	{Open: Clock(8, 0), Close: Clock(12, 0)},
	{Open: Clock(14, 0), Close: Clock(18, 0)},
}

// Contains reports whether [start, end) lies inside the window.
func (w Window) Contains(start, end TimeOfDay) bool {
	return start >= w.Open && end <= w.Close && start < end
}

// ValidateWorkingHours reports whether [start, end) fits entirely inside a single working
// window. A slot spanning the midday break is rejected even if its length would fit.
func ValidateWorkingHours(start, end TimeOfDay) bool {
	for _, w := range WorkingWindows {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}
