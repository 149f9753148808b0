// Package templates keeps the chat and prompt templates in a YAML file.
package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentround/agentround/internal/proto"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("template not found")
	ErrInvalid  = errors.New("invalid template")
)

type Kind string

const (
	KindChat   Kind = "chat"
	KindPrompt Kind = "prompt"
)

// ParseKind accepts "chat" or "prompt".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindChat, KindPrompt:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
	}
}

type item struct {
	Name    string `yaml:"name"`
	Icon    string `yaml:"icon,omitempty"`
	Content string `yaml:"content"`
}

type file struct {
	Chat   map[string]item `yaml:"chat_templates"`
	Prompt map[string]item `yaml:"prompt_templates"`
}

func (f *file) section(k Kind) map[string]item {
	if k == KindPrompt {
		return f.Prompt
	}
	return f.Chat
}

// Store reads and writes a templates file. A missing file reads as empty.
// Reset copies the example file next to it, named like templates.example.yaml.
type Store struct {
	path    string
	example string

	mu sync.Mutex
}

func New(path string) *Store {
	ext := filepath.Ext(path)
	return &Store{
		path:    path,
		example: strings.TrimSuffix(path, ext) + ".example" + ext,
	}
}

// All returns both kinds.
func (s *Store) All() (proto.Templates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := read(s.path)
	if err != nil {
		return proto.Templates{}, err
	}
	return toProto(f), nil
}

// List returns the templates of one kind.
func (s *Store) List(k Kind) (map[string]proto.Template, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	if k == KindPrompt {
		return all.Prompt, nil
	}
	return all.Chat, nil
}

// Put creates or replaces the template id of kind k.
func (s *Store) Put(k Kind, id string, t proto.Template) error {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return fmt.Errorf("%w: id is empty", ErrInvalid)
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("%w: name is empty", ErrInvalid)
	case t.Content == "":
		return fmt.Errorf("%w: content is empty", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := read(s.path)
	if err != nil {
		return err
	}
	f.section(k)[id] = item{Name: t.Name, Icon: t.Icon, Content: t.Content}
	return write(s.path, f)
}

// Delete removes the template id of kind k.
func (s *Store) Delete(k Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := read(s.path)
	if err != nil {
		return err
	}
	sec := f.section(k)
	if _, ok := sec[id]; !ok {
		return ErrNotFound
	}
	delete(sec, id)
	return write(s.path, f)
}

// Reset replaces the templates with the example file. It reports false and
// leaves the templates alone when there is no example file.
func (s *Store) Reset() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.example); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	f, err := read(s.example)
	if err != nil {
		return false, err
	}
	return true, write(s.path, f)
}

func read(path string) (*file, error) {
	f := &file{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read templates: %w", err)
	default:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("failed to parse templates %s: %w", path, err)
		}
	}
	if f.Chat == nil {
		f.Chat = map[string]item{}
	}
	if f.Prompt == nil {
		f.Prompt = map[string]item{}
	}
	return f, nil
}

// write replaces path atomically.
func write(path string, f *file) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode templates: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".templates-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write templates: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write templates: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write templates: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write templates: %w", err)
	}
	return nil
}

func toProto(f *file) proto.Templates {
	conv := func(in map[string]item) map[string]proto.Template {
		out := make(map[string]proto.Template, len(in))
		for id, it := range in {
			out[id] = proto.Template{Name: it.Name, Icon: it.Icon, Content: it.Content}
		}
		return out
	}
	return proto.Templates{Chat: conv(f.Chat), Prompt: conv(f.Prompt)}
}
