package media

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// Mix sums two streams of the same format into one. The first stream
// drives the mix: when it ends the mix ends. When the second ends early
// the mix carries on with the first alone. Closing the mix closes both.
func Mix(a, b Stream) (Stream, error) {
	if a.Format() != b.Format() {
		return nil, fmt.Errorf("mix: format mismatch %+v vs %+v", a.Format(), b.Format())
	}
	return &mixStream{a: a, b: b}, nil
}

type mixStream struct {
	a, b    Stream
	scratch []int16
	bDone   bool

	once sync.Once
	err  error
}

func (m *mixStream) Format() Format { return m.a.Format() }

func (m *mixStream) Read(p []int16) (int, error) {
	n, err := m.a.Read(p)
	if n == 0 {
		return 0, err
	}
	if !m.bDone {
		if cap(m.scratch) < n {
			m.scratch = make([]int16, n)
		}
		buf := m.scratch[:n]
		got, berr := readFull(m.b, buf)
		for i := 0; i < got; i++ {
			p[i] = saturate(int32(p[i]) + int32(buf[i]))
		}
		if berr != nil {
			m.bDone = true
		}
	}
	return n, err
}

func (m *mixStream) Close() error {
	m.once.Do(func() {
		m.err = errors.Join(m.a.Close(), m.b.Close())
	})
	return m.err
}

func readFull(s Stream, p []int16) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}

func saturate(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
