package indicator

import "fmt"

// window is a preallocated circular buffer holding the most recent n values.
type window struct {
	buf   []float64
	idx   int // next write position
	count int // total values pushed
}

func newWindow(n int) window {
	return window{buf: make([]float64, n)}
}

// push writes v, returning the value it overwrote and whether one was overwritten.
func (w *window) push(v float64) (evicted float64, overwrote bool) {
	if w.count >= len(w.buf) {
		evicted, overwrote = w.buf[w.idx], true
	}
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
	return evicted, overwrote
}

func (w *window) full() bool { return w.count >= len(w.buf) }

// oldest returns the value that the next push would overwrite.
func (w *window) oldest() float64 { return w.buf[w.idx] }

// filled returns the populated portion of the buffer (unordered).
func (w *window) filled() []float64 {
	if w.full() {
		return w.buf
	}
	return w.buf[:w.count]
}

func (w *window) max() float64 {
	vals := w.filled()
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *window) min() float64 {
	vals := w.filled()
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (w *window) clone() window {
	buf := make([]float64, len(w.buf))
	copy(buf, w.buf)
	return window{buf: buf, idx: w.idx, count: w.count}
}

func (w *window) reset() {
	w.idx = 0
	w.count = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}

func (w *window) snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{Type: "WINDOW", Period: len(w.buf), Buf: w.clone().buf, Idx: w.idx, Count: w.count}
}

// restore loads a window of size n. The buffer length, write position and
// count must agree with each other and with n.
func (w *window) restore(snap IndicatorSnapshot, n int) error {
	if len(snap.Buf) != n || snap.Count < 0 || snap.Idx != snap.Count%n {
		return fmt.Errorf("window state buf=%d idx=%d count=%d does not fit size %d",
			len(snap.Buf), snap.Idx, snap.Count, n)
	}
	w.buf = make([]float64, n)
	copy(w.buf, snap.Buf)
	w.idx = snap.Idx
	w.count = snap.Count
	return nil
}
