package depgraph

// Set is a set of dependency tokens. The nil Set is a valid empty set for
// reads; use NewSet or Add for writes.
type Set map[Dep]struct{}

func NewSet(deps ...Dep) Set {
	s := make(Set, len(deps))
	for _, d := range deps {
		s[d] = struct{}{}
	}
	return s
}

func (s Set) Has(d Dep) bool {
	_, ok := s[d]
	return ok
}

func (s Set) Add(d Dep) { s[d] = struct{}{} }

func (s Set) Len() int { return len(s) }

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	return out
}

// Union returns a new set holding every member of s and o.
func (s Set) Union(o Set) Set {
	out := make(Set, len(s)+len(o))
	for d := range s {
		out[d] = struct{}{}
	}
	for d := range o {
		out[d] = struct{}{}
	}
	return out
}

// Contains reports whether every member of o is in s.
func (s Set) Contains(o Set) bool {
	for d := range o {
		if !s.Has(d) {
			return false
		}
	}
	return true
}
