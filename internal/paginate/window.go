package paginate

import "fmt"

// Window is a half-open range [From, To) of block numbers or registry indices.
type Window struct {
	From uint64
	To   uint64
}

// Size returns the number of positions in the window.
func (w Window) Size() uint64 {
	return w.To - w.From
}

// Halves splits the window at its midpoint. The left half gets the smaller part.
func (w Window) Halves() (Window, Window) {
	mid := w.From + w.Size()/2
	return Window{From: w.From, To: mid}, Window{From: mid, To: w.To}
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.From, w.To)
}

// Split cuts [from, to) into consecutive windows of size positions, the last one clipped.
func Split(from, to, size uint64) ([]Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("window size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("range end %d is before start %d", to, from)
	}

	windows := make([]Window, 0, (to-from+size-1)/size)
	for start := from; start < to; {
		end := to
		if to-start > size {
			end = start + size
		}
		windows = append(windows, Window{From: start, To: end})
		start = end
	}
	return windows, nil
}
