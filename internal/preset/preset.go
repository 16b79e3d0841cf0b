// Package preset stores sub controls per music scope and resolves the
// active preset for the track that is playing.
package preset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chaz8081/svs-remote/internal/svs"
)

// Scope is the granularity a preset applies to.
type Scope string

const (
	ScopeHome    Scope = "HOME"
	ScopeGenre   Scope = "GENRE"
	ScopeArtist  Scope = "ARTIST"
	ScopeRelease Scope = "RELEASE"
	ScopeTrack   Scope = "TRACK"
)

const (
	keyBase        = "PRESET:MUSIC"
	templatePrefix = keyBase + "<TEMPLATE>"
)

// DefaultControls seed the HOME preset.
var DefaultControls = svs.Controls{Volume: -29, Phase: 77}

// ErrNoKey is returned when the playing metadata cannot address a scope.
var ErrNoKey = errors.New("preset: metadata does not address this scope")

// hierarchy is narrowest first.
var hierarchy = []Scope{ScopeTrack, ScopeRelease, ScopeArtist, ScopeGenre}

// Playing identifies the current track.
type Playing struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Genre  string `json:"genre,omitempty"`
}

// Item is a stored preset.
type Item struct {
	Title    string       `json:"title"`
	Controls svs.Controls `json:"controls"`
}

// Entry is one scope's lookup result.
type Entry struct {
	Scope Scope  `json:"type"`
	Key   string `json:"key"`
	Item  *Item  `json:"item"`
}

// Resolution is the active preset and every scope consulted to find it.
type Resolution struct {
	Active Entry   `json:"active"`
	Chain  []Entry `json:"chain"`
}

// Key builds the storage key for scope. It returns "" when p lacks the
// fields the scope needs.
func Key(scope Scope, p Playing) string {
	switch scope {
	case ScopeHome:
		return keyBase + "<HOME>"
	case ScopeGenre:
		if p.Genre == "" {
			return ""
		}
		return fmt.Sprintf("%s<GENRE><%s>", keyBase, p.Genre)
	case ScopeArtist:
		return fmt.Sprintf("%s<ARTIST><%s>", keyBase, p.Artist)
	case ScopeRelease:
		if p.Album == "" {
			return ""
		}
		return fmt.Sprintf("%s<RELEASE><%s><%s>", keyBase, p.Artist, p.Album)
	case ScopeTrack:
		return fmt.Sprintf("%s<TRACK><%s><%s><%s>", keyBase, p.Artist, p.Album, p.Title)
	default:
		return ""
	}
}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToUpper(s)); sc {
	case ScopeHome, ScopeGenre, ScopeArtist, ScopeRelease, ScopeTrack:
		return sc, nil
	default:
		return "", fmt.Errorf("preset: unknown scope %q", s)
	}
}

func templateKey(name string) string {
	return templatePrefix + "<" + name + ">"
}

// Backend is raw key/value storage for items.
type Backend interface {
	Get(ctx context.Context, key string) (*Item, error) // nil, nil when absent
	Set(ctx context.Context, key string, item Item) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store implements the preset rules over a Backend.
type Store struct {
	backend Backend
}

// NewStore wraps backend and seeds the HOME preset if it is missing.
func NewStore(ctx context.Context, backend Backend) (*Store, error) {
	s := &Store{backend: backend}
	home := Key(ScopeHome, Playing{})
	item, err := backend.Get(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("preset: read home: %w", err)
	}
	if item == nil {
		if err := backend.Set(ctx, home, Item{Title: "Home", Controls: DefaultControls}); err != nil {
			return nil, fmt.Errorf("preset: seed home: %w", err)
		}
	}
	return s, nil
}

// Home returns the HOME preset.
func (s *Store) Home(ctx context.Context) (Item, error) {
	item, err := s.backend.Get(ctx, Key(ScopeHome, Playing{}))
	if err != nil {
		return Item{}, err
	}
	if item == nil {
		return Item{Title: "Home", Controls: DefaultControls}, nil
	}
	return *item, nil
}

// Resolve returns the narrowest stored preset for p, falling back to HOME.
// A nil p resolves straight to HOME with an empty chain.
func (s *Store) Resolve(ctx context.Context, p *Playing) (Resolution, error) {
	home, err := s.Home(ctx)
	if err != nil {
		return Resolution{}, err
	}
	fallback := Entry{Scope: ScopeHome, Key: Key(ScopeHome, Playing{}), Item: &home}
	if p == nil {
		return Resolution{Active: fallback, Chain: []Entry{}}, nil
	}

	res := Resolution{Chain: make([]Entry, 0, len(hierarchy))}
	var active *Entry
	for _, scope := range hierarchy {
		e := Entry{Scope: scope, Key: Key(scope, *p)}
		if e.Key != "" {
			if e.Item, err = s.backend.Get(ctx, e.Key); err != nil {
				return Resolution{}, err
			}
		}
		res.Chain = append(res.Chain, e)
		if active == nil && e.Item != nil {
			active = &res.Chain[len(res.Chain)-1]
		}
	}
	if active != nil {
		res.Active = *active
	} else {
		res.Active = fallback
	}
	return res, nil
}

// Save stores controls at scope. Saving at RELEASE clears the TRACK preset;
// saving at ARTIST clears TRACK and RELEASE.
func (s *Store) Save(ctx context.Context, scope Scope, p Playing, controls svs.Controls) error {
	key := Key(scope, p)
	if key == "" {
		return fmt.Errorf("%w: %s", ErrNoKey, scope)
	}

	var clear []Scope
	switch scope {
	case ScopeRelease:
		clear = []Scope{ScopeTrack}
	case ScopeArtist:
		clear = []Scope{ScopeTrack, ScopeRelease}
	}
	for _, sc := range clear {
		if k := Key(sc, p); k != "" {
			if err := s.backend.Remove(ctx, k); err != nil {
				return err
			}
		}
	}
	return s.backend.Set(ctx, key, Item{Title: key, Controls: controls})
}

// Delete removes every non-HOME preset addressed by p.
func (s *Store) Delete(ctx context.Context, p Playing) error {
	for _, scope := range hierarchy {
		if k := Key(scope, p); k != "" {
			if err := s.backend.Remove(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveTemplate stores controls under a name.
func (s *Store) SaveTemplate(ctx context.Context, name string, controls svs.Controls) error {
	if name == "" {
		return errors.New("preset: template name is required")
	}
	return s.backend.Set(ctx, templateKey(name), Item{Title: name, Controls: controls})
}

// Template returns a named template, or nil if it does not exist.
func (s *Store) Template(ctx context.Context, name string) (*svs.Controls, error) {
	item, err := s.backend.Get(ctx, templateKey(name))
	if err != nil || item == nil {
		return nil, err
	}
	return &item.Controls, nil
}

// DeleteTemplate removes a named template.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	return s.backend.Remove(ctx, templateKey(name))
}

// Templates lists template names.
func (s *Store) Templates(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, templatePrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, templatePrefix)
		name = strings.TrimSuffix(strings.TrimPrefix(name, "<"), ">")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
