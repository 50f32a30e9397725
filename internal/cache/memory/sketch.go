package memory

import "sync"

// frequencySketch is a count-min sketch with periodic halving, giving each
// key a bounded, decaying frequency estimate. TinyLFU uses it to decide
// whether a newly-inserted key deserves to displace the shard's current
// lowest-frequency occupant, instead of always evicting on pure recency.
type frequencySketch struct {
	mu      sync.Mutex
	width   uint32
	packed  [4][]uint8 // 4-bit counters packed two per byte, depth 4 rows
	samples uint32
}

const sketchMaxCounter = 15 // 4-bit saturating counter

func newFrequencySketch(width uint32) *frequencySketch {
	if width == 0 {
		width = 1024
	}
	// round up to a power of two for cheap masking
	w := uint32(1)
	for w < width {
		w <<= 1
	}
	s := &frequencySketch{width: w}
	for i := range s.packed {
		s.packed[i] = make([]uint8, (w+1)/2)
	}
	return s
}

func (s *frequencySketch) hashes(key string) [4]uint32 {
	h1 := fnv32(key)
	h2 := fnv32(key + "\x01")
	var out [4]uint32
	for i := 0; i < 4; i++ {
		out[i] = (h1 + uint32(i)*h2) & (s.width - 1)
	}
	return out
}

func (s *frequencySketch) get(row int, idx uint32) uint8 {
	b := s.packed[row][idx/2]
	if idx%2 == 0 {
		return b & 0x0F
	}
	return (b >> 4) & 0x0F
}

func (s *frequencySketch) set(row int, idx uint32, v uint8) {
	b := &s.packed[row][idx/2]
	if idx%2 == 0 {
		*b = (*b &^ 0x0F) | (v & 0x0F)
	} else {
		*b = (*b &^ 0xF0) | (v << 4)
	}
}

// increment bumps every row's counter for key, saturating at 15, and halves
// every counter once the sketch has seen width*10 samples (standard
// count-min-sketch decay so frequency reflects recent, not lifetime, access).
func (s *frequencySketch) increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idxs := s.hashes(key)
	for row, idx := range idxs {
		v := s.get(row, idx)
		if v < sketchMaxCounter {
			s.set(row, idx, v+1)
		}
	}
	s.samples++
	if s.samples >= s.width*10 {
		s.halve()
		s.samples = 0
	}
}

func (s *frequencySketch) halve() {
	for row := range s.packed {
		for i := range s.packed[row] {
			s.packed[row][i] = (s.packed[row][i] >> 1) & 0x77
		}
	}
}

// estimate returns the minimum counter across rows, the count-min estimate
// of key's recent access frequency.
func (s *frequencySketch) estimate(key string) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idxs := s.hashes(key)
	min := uint8(255)
	for row, idx := range idxs {
		v := s.get(row, idx)
		if v < min {
			min = v
		}
	}
	return min
}

// admit decides whether candidate should displace victim: true unless the
// victim's estimated frequency is strictly higher than the candidate's.
func (s *frequencySketch) admit(candidate, victim string) bool {
	return s.estimate(candidate) >= s.estimate(victim)
}
