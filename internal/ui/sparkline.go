package ui

import "strings"

// sparklineChars are the block characters used for the bars, from lowest to
// highest.
var sparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring of recent throughput samples and renders them as a
// row of block characters, scaled to the largest sample in the window.
type Sparkline struct {
	samples []float64
	head    int
	count   int
	max     float64
}

// NewSparkline creates a sparkline holding width samples. At one sample per
// second the default window covers a minute of embedding throughput.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add records one sample.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++

	if value > s.max {
		s.max = value
	}
	// The max only grows as samples arrive; rescan once per full window so
	// a throughput spike does not flatten the chart forever.
	if s.count%len(s.samples) == 0 {
		s.rescanMax()
	}
}

// Clear resets the window.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Render returns the full window as block characters. Positions not yet
// filled render as spaces.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(len(s.samples))
}

// RenderWithWidth renders the most recent width samples, for terminals
// narrower than the window.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}
	if s.count == 0 {
		return strings.Repeat(string(sparklineChars[0]), width)
	}
	if s.max <= 0 {
		s.rescanMax()
	}

	ordered := s.chronological()
	if len(ordered) > width {
		ordered = ordered[len(ordered)-width:]
	}

	var b strings.Builder
	b.Grow(width * 3)
	for _, v := range ordered {
		b.WriteRune(s.bar(v))
	}
	for i := len(ordered); i < width; i++ {
		b.WriteByte(' ')
	}
	return b.String()
}

// chronological returns the filled samples, oldest first.
func (s *Sparkline) chronological() []float64 {
	n := len(s.samples)
	if s.count < n {
		return s.samples[:s.count]
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(s.head+i)%n])
	}
	return out
}

func (s *Sparkline) bar(value float64) rune {
	idx := int(value / s.max * float64(len(sparklineChars)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sparklineChars) {
		idx = len(sparklineChars) - 1
	}
	return sparklineChars[idx]
}

func (s *Sparkline) rescanMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}
