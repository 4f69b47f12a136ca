// Package profile defines environment profiles: named, parameterized
// configuration bundles consumed by the graph (sizing knobs) and the rollout
// pipelines (gating and retry knobs). This is part of the Functional Core -
// all functions are pure with no I/O.
package profile

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNameRequired     = errors.New("profile name is required")
	ErrUnknownProfile   = errors.New("unknown environment profile")
	ErrInvalidParameter = errors.New("invalid profile parameter")
	ErrDuplicateProfile = errors.New("duplicate profile name")
	ErrNoProfiles       = errors.New("at least one environment profile is required")
)

// =============================================================================
// Environment Profile
// =============================================================================

// Profile is a named environment configuration bundle. Loaded once at
// orchestration start and immutable for the duration of a run.
type Profile struct {
	Name       string            `yaml:"name"`
	Protected  bool              `yaml:"protected"`
	Parameters map[string]string `yaml:"parameters"`
}

// Validate checks the profile declaration.
func (p Profile) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// Param returns the named parameter, or fallback when absent.
func (p Profile) Param(key, fallback string) string {
	if v, ok := p.Parameters[key]; ok {
		return v
	}
	return fallback
}

// IntParam returns the named parameter parsed as an integer.
func (p Profile) IntParam(key string, fallback int) (int, error) {
	v, ok := p.Parameters[key]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParameter, key, v)
	}
	return n, nil
}

// DurationParam returns the named parameter parsed as a duration ("30s", "2m").
func (p Profile) DurationParam(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := p.Parameters[key]
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidParameter, key, v)
	}
	return d, nil
}

// =============================================================================
// Profile Set
// =============================================================================

// Set holds the loaded profiles keyed by name, preserving declaration order.
type Set struct {
	profiles map[string]Profile
	names    []string
}

// NewSet builds a profile set, rejecting duplicates and invalid profiles.
func NewSet(profiles []Profile) (*Set, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}
	s := &Set{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, exists := s.profiles[p.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProfile, p.Name)
		}
		s.profiles[p.Name] = p
		s.names = append(s.names, p.Name)
	}
	return s, nil
}

// Get returns the named profile.
func (s *Set) Get(name string) (Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns profile names in declaration order.
func (s *Set) Names() []string {
	return append([]string{}, s.names...)
}
