package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// fileLadder is the YAML shape of one probe override:
//
//	probes:
//	  error_rate: {low: 5, medium: 10, high: 25, critical: 50}
//	  failed_syncs: {low: 2, critical: 20}
//
// Omitted tiers keep their default threshold.
type fileLadder struct {
	Low      *float64 `yaml:"low"`
	Medium   *float64 `yaml:"medium"`
	High     *float64 `yaml:"high"`
	Critical *float64 `yaml:"critical"`
	Title    string   `yaml:"title"`
}

type fileDoc struct {
	Probes map[string]fileLadder `yaml:"probes"`
}

// Parse applies the YAML overrides in data on top of Defaults.
func Parse(data []byte) (Thresholds, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}

	out := Defaults()
	for name, fl := range doc.Probes {
		p := Probe(name)
		rule, ok := out[p]
		if !ok {
			return nil, fmt.Errorf("unknown probe %q", name)
		}
		for i := range rule.Ladder {
			var v *float64
			switch rule.Ladder[i].Severity {
			case domain.SeverityLow:
				v = fl.Low
			case domain.SeverityMedium:
				v = fl.Medium
			case domain.SeverityHigh:
				v = fl.High
			case domain.SeverityCritical:
				v = fl.Critical
			}
			if v != nil {
				rule.Ladder[i].Min = *v
			}
		}
		if fl.Title != "" {
			rule.Title = fl.Title
		}
		if err := rule.Ladder.Validate(); err != nil {
			return nil, fmt.Errorf("probe %s: %w", name, err)
		}
		out[p] = rule
	}
	return out, nil
}

// LoadFile reads and parses a thresholds file.
func LoadFile(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Store serves the current thresholds to concurrent readers.
type Store struct {
	cur  atomic.Pointer[Thresholds]
	path string
}

// NewStore returns a store holding the defaults, or the contents of path
// when it is non-empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	t := Defaults()
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load thresholds %s: %w", path, err)
		}
		t = loaded
	}
	s.cur.Store(&t)
	return s, nil
}

// Get returns the current thresholds. Callers must not modify the result.
func (s *Store) Get() Thresholds {
	return *s.cur.Load()
}

// Rule returns the current rule for p.
func (s *Store) Rule(p Probe) (Rule, bool) {
	r, ok := s.Get()[p]
	return r, ok
}

// Reload re-reads the file. On error the previous thresholds stay in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	t, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(&t)
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so that editors replacing the file are noticed.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Warn().Err(err).Str("file", s.path).Msg("thresholds reload failed; keeping previous")
				continue
			}
			log.Info().Str("file", s.path).Msg("thresholds reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("thresholds watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
