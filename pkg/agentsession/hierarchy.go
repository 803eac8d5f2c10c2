package agentsession

// ParentOf returns the recorded parent tool_use_id for toolUseID, and
// whether one was recorded. Consumers that need to render a hierarchy walk
// this map themselves; the session never stores a graph, per spec.md §9.
func (s *Session) ParentOf(toolUseID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parentOf[toolUseID]
	return p, ok
}
