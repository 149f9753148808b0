// Package filter removes reasoning markup from streamed model output.
package filter

import (
	"strings"

	"github.com/agentround/agentround/internal/config"
)

// Filter holds the marker pairs to strip. It is safe for concurrent use;
// per-call state lives in the Stream returned by Stream.
type Filter struct {
	enabled bool
	markers []config.MarkerPair
}

// New returns a Filter for markers. Pairs with an empty open or close marker
// are ignored. With no usable pairs the default reasoning tags are used.
// Markers match regardless of ASCII letter case.
func New(enabled bool, markers []config.MarkerPair) *Filter {
	f := &Filter{enabled: enabled}
	for _, m := range markers {
		if m.Open == "" || m.Close == "" {
			continue
		}
		f.markers = append(f.markers, fold(m))
	}
	if len(f.markers) == 0 {
		for _, m := range config.DefaultMarkers() {
			f.markers = append(f.markers, fold(m))
		}
	}
	return f
}

func fold(m config.MarkerPair) config.MarkerPair {
	return config.MarkerPair{Open: lowerASCII(m.Open), Close: lowerASCII(m.Close)}
}

// lowerASCII lowers A-Z only, so byte offsets in the result are valid in
// the input.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// strayClose reports whether a closing marker met outside a block is
// dropped. Only tag-style closes are; a bare fence may end ordinary code.
func strayClose(m config.MarkerPair) bool {
	return strings.HasPrefix(m.Close, "</")
}

func FromConfig(cfg config.ThoughtConfig) *Filter {
	return New(cfg.Enabled, cfg.Markers)
}

func (f *Filter) Enabled() bool {
	return f.enabled
}

// Stream starts filtering a new response.
func (f *Filter) Stream() *Stream {
	return &Stream{filter: f}
}

// Strip filters a complete text in one go.
func (f *Filter) Strip(s string) string {
	st := f.Stream()
	return st.Feed(s) + st.Flush()
}

// Stream filters one response. Chunk boundaries do not matter: feeding the
// chunks of a text one by one yields the same output as feeding the whole
// text at once.
type Stream struct {
	filter *Filter

	pending  string
	inside   bool
	closing  string
	hidden   strings.Builder
	unclosed bool
}

// Feed consumes a chunk and returns the text that is now known to be
// visible. Text that may still turn out to be the start of a marker is held
// back until a later Feed or Flush.
func (s *Stream) Feed(chunk string) string {
	if !s.filter.enabled {
		return chunk
	}
	s.pending += chunk

	var out strings.Builder
	for {
		folded := lowerASCII(s.pending)
		if !s.inside {
			idx, n, closing := s.nextMarker(folded)
			if idx >= 0 {
				out.WriteString(s.pending[:idx])
				s.pending = s.pending[idx+n:]
				if closing != "" {
					s.inside = true
					s.closing = closing
					s.hidden.Reset()
				}
				continue
			}
			keep := s.heldBack(folded, func(suffix string) bool {
				for _, m := range s.filter.markers {
					if strings.HasPrefix(m.Open, suffix) || (strayClose(m) && strings.HasPrefix(m.Close, suffix)) {
						return true
					}
				}
				return false
			})
			out.WriteString(s.pending[:len(s.pending)-keep])
			s.pending = s.pending[len(s.pending)-keep:]
			return out.String()
		}

		if idx := strings.Index(folded, s.closing); idx >= 0 {
			s.pending = s.pending[idx+len(s.closing):]
			s.inside = false
			s.hidden.Reset()
			continue
		}
		keep := s.heldBack(folded, func(suffix string) bool {
			return strings.HasPrefix(s.closing, suffix)
		})
		s.hidden.WriteString(s.pending[:len(s.pending)-keep])
		s.pending = s.pending[len(s.pending)-keep:]
		return out.String()
	}
}

// Flush ends the response and returns whatever is still buffered. Reasoning
// that was opened but never closed is returned as visible text, without its
// opening marker, and Unclosed reports true afterwards.
func (s *Stream) Flush() string {
	if !s.filter.enabled {
		return ""
	}
	out := s.pending
	if s.inside {
		out = s.hidden.String() + s.pending
		s.unclosed = true
		s.inside = false
		s.hidden.Reset()
	}
	s.pending = ""
	return out
}

// Unclosed reports whether Flush found an opening marker without its close.
func (s *Stream) Unclosed() bool {
	return s.unclosed
}

// nextMarker finds the earliest marker in the folded pending text: an
// opening marker, or a stray tag-style closing marker. It returns its offset
// and length, and for an opening marker the close that ends the block. The
// longest marker wins when several start at the same offset.
func (s *Stream) nextMarker(folded string) (idx, n int, closing string) {
	idx = -1
	consider := func(marker, closes string) {
		i := strings.Index(folded, marker)
		if i < 0 {
			return
		}
		if idx < 0 || i < idx || (i == idx && len(marker) > n) {
			idx, n, closing = i, len(marker), closes
		}
	}
	for _, m := range s.filter.markers {
		consider(m.Open, m.Close)
		if strayClose(m) {
			consider(m.Close, "")
		}
	}
	return idx, n, closing
}

// heldBack returns the length of the longest suffix of the pending text that
// could still grow into a marker.
func (s *Stream) heldBack(folded string, isPrefix func(string) bool) int {
	longest := 0
	for _, m := range s.filter.markers {
		longest = max(longest, len(m.Open), len(m.Close))
	}
	for n := min(len(folded), longest); n > 0; n-- {
		if isPrefix(folded[len(folded)-n:]) {
			return n
		}
	}
	return 0
}
