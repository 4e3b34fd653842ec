package marketdata

import (
	"sort"
	"time"
)

// ProviderStatus is the health of one provider as seen by this process.
type ProviderStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Successes   int64      `json:"successes"`
	Failures    int64      `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

func (s *Service) recordSuccess(name string) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(name)
	st.Successes++
	st.LastSuccess = &now
}

func (s *Service) recordFailure(name string, err error) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(name)
	st.Failures++
	st.LastError = err.Error()
	st.LastErrorAt = &now
}

func (s *Service) entry(name string) *ProviderStatus {
	st, ok := s.status[name]
	if !ok {
		st = &ProviderStatus{Name: name, Enabled: true}
		s.status[name] = st
	}
	return st
}

// ProviderStatus returns a snapshot sorted by provider name.
func (s *Service) ProviderStatus() []ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProviderStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
