package behavior

// fingerprintSet is an insertion-ordered set of content hashes.
type fingerprintSet struct {
	members map[string]struct{}
	order   []string
}

func newFingerprintSet() *fingerprintSet {
	return &fingerprintSet{members: make(map[string]struct{})}
}

// insert adds h and reports whether it was new. Beyond limit the oldest
// hashes are evicted.
func (s *fingerprintSet) insert(h string, limit int) bool {
	if _, ok := s.members[h]; ok {
		return false
	}
	s.members[h] = struct{}{}
	s.order = append(s.order, h)
	for len(s.members) > limit && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
	return true
}

// compact keeps the newest keep hashes once more than hardCap are stored.
func (s *fingerprintSet) compact(hardCap, keep int) bool {
	if len(s.order) <= hardCap {
		return false
	}
	if keep > len(s.order) {
		keep = len(s.order)
	}
	tail := s.order[len(s.order)-keep:]
	order := make([]string, 0, keep)
	members := make(map[string]struct{}, keep)
	for _, h := range tail {
		order = append(order, h)
		members[h] = struct{}{}
	}
	s.order = order
	s.members = members
	return true
}

func (s *fingerprintSet) len() int {
	return len(s.members)
}
