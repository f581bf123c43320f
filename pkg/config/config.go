// Package config loads the plotter configuration: an INI-style file whose
// options are tracked as they are read, or YAML, plus environment overrides.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed INI-style file.
//
// Syntax: "[section]" headers, "key: value" or "key = value" options, "#"
// and ";" comments, and "[include <glob>]" resolved against the directory
// of the including file. A section that appears twice is merged, later
// values winning.
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string
	read     map[string]bool
}

func newConfig() *Config {
	return &Config{sections: make(map[string]*Section), read: make(map[string]bool)}
}

// Load parses the file at path and everything it includes.
func Load(path string) (*Config, error) {
	c := newConfig()
	p := &parser{cfg: c, open: make(map[string]bool)}
	if err := p.file(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses data. Includes are rejected.
func LoadString(data string) (*Config, error) {
	c := newConfig()
	p := &parser{cfg: c}
	if err := p.parse(strings.NewReader(data), "<string>", ""); err != nil {
		return nil, err
	}
	return c, nil
}

// parser feeds one Config from a tree of included files.
type parser struct {
	cfg  *Config
	open map[string]bool // files on the include stack; nil disables includes
}

func (p *parser) file(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if p.open[abs] {
		return fmt.Errorf("config: %s includes itself", path)
	}
	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	p.open[abs] = true
	defer delete(p.open, abs)
	return p.parse(f, path, filepath.Dir(abs))
}

func (p *parser) include(dir, spec string) error {
	pattern := filepath.Join(dir, spec)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("config: include %q: %w", spec, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return fmt.Errorf("config: include %s: no such file", pattern)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := p.file(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parse(r io.Reader, name, dir string) error {
	var sec *Section
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
		case line[0] == '[' && line[len(line)-1] == ']':
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: %s:%d: empty section name", name, n)
			}
			if strings.Fields(header)[0] != "include" {
				sec = p.cfg.section(header)
				continue
			}
			spec := strings.TrimSpace(strings.TrimPrefix(header, "include"))
			switch {
			case p.open == nil:
				return fmt.Errorf("config: %s:%d: include needs a file", name, n)
			case spec == "":
				return fmt.Errorf("config: %s:%d: empty include", name, n)
			}
			if err := p.include(dir, spec); err != nil {
				return err
			}
			sec = nil
		case sec == nil:
			// options outside a section are ignored
		default:
			sep := strings.IndexAny(line, ":=")
			key := ""
			if sep > 0 {
				key = strings.TrimSpace(line[:sep])
			}
			if key == "" {
				return fmt.Errorf("config: %s:%d: malformed option %q", name, n, line)
			}
			sec.set(key, strings.TrimSpace(line[sep+1:]))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("config: reading %s: %w", name, err)
	}
	return nil
}

// section returns the named section, creating it on first sight.
func (c *Config) section(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sections[name]; ok {
		return s
	}
	s := newSection(name)
	c.sections[name] = s
	c.order = append(c.order, name)
	return s
}

// Section returns the named section, or nil. A returned section counts as
// used.
func (c *Config) Section(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sections[name]
	if s != nil {
		c.read[name] = true
	}
	return s
}

// HasSection reports whether the file defined name.
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[name]
	return ok
}

// Sections lists section names in file order.
func (c *Config) Sections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// CheckUnused reports every section never fetched and every option never
// read in the sections that were.
func (c *Config) CheckUnused() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var problems []string
	for _, name := range c.order {
		if !c.read[name] {
			problems = append(problems, fmt.Sprintf("[%s] unused", name))
			continue
		}
		if left := c.sections[name].Unused(); len(left) > 0 {
			problems = append(problems, fmt.Sprintf("[%s] unused options %s", name, strings.Join(left, ", ")))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Message: strings.Join(problems, "; ")}
}
