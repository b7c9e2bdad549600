package viewer

// SelectionSet tracks the filenames marked for a bulk action, in the order
// they were marked. It is not safe for concurrent use; View guards it.
type SelectionSet struct {
	order   []string
	members map[string]struct{}
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{members: make(map[string]struct{})}
}

// Toggle adds name if absent and removes it if present. It returns whether
// name is selected afterwards.
func (s *SelectionSet) Toggle(name string) bool {
	if _, ok := s.members[name]; ok {
		delete(s.members, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return false
	}
	s.members[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *SelectionSet) Contains(name string) bool {
	_, ok := s.members[name]
	return ok
}

func (s *SelectionSet) Clear() {
	s.order = nil
	clear(s.members)
}

func (s *SelectionSet) Len() int {
	return len(s.order)
}

// Items returns a copy of the selected filenames in selection order.
func (s *SelectionSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
