package backend

import (
	"errors"
	"sync"
)

// ErrNotRetained is returned by Release when the service has no references.
var ErrNotRetained = errors.New("backend service not retained")

// Service performs process-wide backend setup once for all compilers that
// share it. Setup runs on the first Retain and teardown on the last Release.
type Service struct {
	mu       sync.Mutex
	refs     int
	setup    func() error
	teardown func() error
}

// NewService returns a service running setup and teardown around its
// lifetime. Either may be nil.
func NewService(setup, teardown func() error) *Service {
	return &Service{setup: setup, teardown: teardown}
}

var defaultService = sync.OnceValue(func() *Service {
	return NewService(nil, nil)
})

// DefaultService returns the lazily created process-wide service.
func DefaultService() *Service {
	return defaultService()
}

func (s *Service) Retain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 && s.setup != nil {
		if err := s.setup(); err != nil {
			return err
		}
	}
	s.refs++
	return nil
}

func (s *Service) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return ErrNotRetained
	}
	s.refs--
	if s.refs == 0 && s.teardown != nil {
		return s.teardown()
	}
	return nil
}

// Refs returns the number of outstanding references.
func (s *Service) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
