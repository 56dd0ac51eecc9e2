// Package hostlist parses compressed host-range expressions such as
// "n[1-4,7],login0". Node order is significant: the index of a node in
// the expanded list is the index every consumer of the expression agrees
// on.
package hostlist

import (
	"fmt"
	"strconv"
	"strings"
)

// Hostlist is an expanded, ordered list of host names.
type Hostlist struct {
	names []string
	index map[string]int
}

// Parse expands expr into a Hostlist.
//
// Supported syntax: comma-separated entries, where each entry is either a
// plain name or prefix[ranges]suffix with ranges being comma-separated
// N or N-M items. Leading zeros in range bounds are preserved as padding.
func Parse(expr string) (*Hostlist, error) {
	if expr == "" {
		return nil, fmt.Errorf("hostlist: empty expression")
	}

	hl := &Hostlist{index: make(map[string]int)}

	for _, entry := range splitEntries(expr) {
		open := strings.IndexByte(entry, '[')
		if open < 0 {
			if strings.IndexByte(entry, ']') >= 0 {
				return nil, fmt.Errorf("hostlist: unbalanced brackets in %q", entry)
			}
			hl.add(entry)
			continue
		}

		end := strings.IndexByte(entry, ']')
		if end < open {
			return nil, fmt.Errorf("hostlist: unbalanced brackets in %q", entry)
		}

		prefix := entry[:open]
		suffix := entry[end+1:]
		ranges := entry[open+1 : end]
		if ranges == "" {
			return nil, fmt.Errorf("hostlist: empty range in %q", entry)
		}

		for _, r := range strings.Split(ranges, ",") {
			lo, hi, width, err := parseRange(r)
			if err != nil {
				return nil, fmt.Errorf("hostlist: %w in %q", err, entry)
			}
			for i := lo; i <= hi; i++ {
				hl.add(fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
			}
		}
	}

	return hl, nil
}

// splitEntries splits on commas that are not inside brackets.
func splitEntries(expr string) []string {
	var entries []string
	depth := 0
	start := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				entries = append(entries, expr[start:i])
				start = i + 1
			}
		}
	}
	return append(entries, expr[start:])
}

func parseRange(r string) (lo, hi, width int, err error) {
	lostr, histr, found := strings.Cut(r, "-")
	if !found {
		histr = lostr
	}

	lo, err = strconv.Atoi(lostr)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad range bound %q", lostr)
	}
	hi, err = strconv.Atoi(histr)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad range bound %q", histr)
	}
	if hi < lo {
		return 0, 0, 0, fmt.Errorf("inverted range %q", r)
	}

	width = 1
	if len(lostr) > 1 && lostr[0] == '0' {
		width = len(lostr)
	}
	return lo, hi, width, nil
}

func (h *Hostlist) add(name string) {
	if _, ok := h.index[name]; ok {
		return
	}
	h.index[name] = len(h.names)
	h.names = append(h.names, name)
}

// Find returns the index of name, or -1 if name is not in the list.
func (h *Hostlist) Find(name string) int {
	if i, ok := h.index[name]; ok {
		return i
	}
	return -1
}

// Count returns the number of hosts.
func (h *Hostlist) Count() int { return len(h.names) }

// Host returns the name at index i.
func (h *Hostlist) Host(i int) string { return h.names[i] }

// Names returns a copy of the expanded name list.
func (h *Hostlist) Names() []string {
	names := make([]string, len(h.names))
	copy(names, h.names)
	return names
}

// Find is a convenience wrapper that parses expr and looks up name.
// It returns -1 when the expression does not parse or name is absent.
func Find(expr, name string) int {
	hl, err := Parse(expr)
	if err != nil {
		return -1
	}
	return hl.Find(name)
}
