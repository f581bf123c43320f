package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Section is one [name] block. Option names are case-insensitive and every
// lookup marks the option as read, including lookups that fall back to a
// default.
type Section struct {
	name string

	mu      sync.Mutex
	options map[string]string
	read    map[string]bool
}

func newSection(name string) *Section {
	return &Section{name: name, options: make(map[string]string), read: make(map[string]bool)}
}

func (s *Section) set(key, value string) {
	s.mu.Lock()
	s.options[strings.ToLower(key)] = value
	s.mu.Unlock()
}

// Name returns the section header.
func (s *Section) Name() string { return s.name }

// Has reports whether option is present, without marking it read.
func (s *Section) Has(option string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Unused lists options never looked up, sorted.
func (s *Section) Unused() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.options {
		if !s.read[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[key] = true
	v, ok := s.options[key]
	return v, ok
}

func (s *Section) fail(option, format string, args ...any) *ConfigError {
	return &ConfigError{Section: s.name, Option: option, Message: fmt.Sprintf(format, args...)}
}

// Check validates a numeric option, returning "" or the violated rule.
type Check[T int | float64] func(T) string

// Above requires v > lo.
func Above[T int | float64](lo T) Check[T] {
	return func(v T) string {
		if v > lo {
			return ""
		}
		return fmt.Sprintf("must be above %v", lo)
	}
}

// AtLeast requires v >= lo.
func AtLeast[T int | float64](lo T) Check[T] {
	return func(v T) string {
		if v >= lo {
			return ""
		}
		return fmt.Sprintf("must be at least %v", lo)
	}
}

func number[T int | float64](s *Section, option string, def T, kind string, parse func(string) (T, error), checks []Check[T]) (T, error) {
	raw, ok := s.lookup(option)
	if !ok {
		return def, nil
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def, s.fail(option, "%q is not %s", raw, kind)
	}
	for _, check := range checks {
		if msg := check(v); msg != "" {
			return def, s.fail(option, "%v %s", v, msg)
		}
	}
	return v, nil
}

// String returns the option, or def when absent.
func (s *Section) String(option, def string) string {
	if v, ok := s.lookup(option); ok {
		return v
	}
	return def
}

// Int parses the option as an integer. Checks apply to values from the file only.
func (s *Section) Int(option string, def int, checks ...Check[int]) (int, error) {
	return number(s, option, def, "an integer", strconv.Atoi, checks)
}

// Float parses the option as a number. Checks apply to values from the file only.
func (s *Section) Float(option string, def float64, checks ...Check[float64]) (float64, error) {
	parse := func(v string) (float64, error) { return strconv.ParseFloat(v, 64) }
	return number(s, option, def, "a number", parse, checks)
}

// Choice returns the option folded to one of choices.
func (s *Section) Choice(option, def string, choices ...string) (string, error) {
	v := s.String(option, def)
	for _, c := range choices {
		if strings.EqualFold(strings.TrimSpace(v), c) {
			return c, nil
		}
	}
	return def, s.fail(option, "%q is not one of %s", v, strings.Join(choices, ", "))
}

// Seconds reads a positive number of seconds, e.g. "homing_timeout: 2.5".
func (s *Section) Seconds(option string, def time.Duration) (time.Duration, error) {
	secs, err := s.Float(option, def.Seconds(), Above(0.0))
	if err != nil {
		return def, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
