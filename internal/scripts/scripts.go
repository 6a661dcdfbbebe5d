// Package scripts manages the on-disk library of task script files.
//
// Scripts live flat under a single managed directory. The name is the only
// client-supplied path component and is sanitized so nothing can escape the
// directory.
package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cronix/pkg/logx"
)

// Type of a script, determined by its file extension.
type Type string

const (
	TypePython Type = "python"
	TypeNode   Type = "node"
	TypeShell  Type = "shell"
)

func (t Type) Valid() bool {
	switch t {
	case TypePython, TypeNode, TypeShell:
		return true
	}
	return false
}

var extensions = map[Type]string{
	TypePython: ".py",
	TypeNode:   ".js",
	TypeShell:  ".sh",
}

func typeForName(name string) (Type, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return TypePython, true
	case ".js":
		return TypeNode, true
	case ".sh":
		return TypeShell, true
	}
	return "", false
}

// Script is a stored script with its content.
type Script struct {
	Name    string `json:"name"`
	Type    Type   `json:"type"`
	Content string `json:"content"`
	Path    string `json:"path"`
}

// Info is a directory listing entry.
type Info struct {
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Stats summarizes the script library.
type Stats struct {
	Total          int          `json:"total"`
	ByType         map[Type]int `json:"by_type"`
	TotalSizeBytes int64        `json:"total_size_bytes"`
}

var (
	ErrNotFound = errors.New("script not found")
	ErrExists   = errors.New("script already exists")
)

// NameError reports an invalid or unsafe script name.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid script name %q: %s", e.Name, e.Reason)
}

// Service stores scripts under a single root directory.
type Service struct {
	root string
	log  logx.Logger
}

func New(root string, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scripts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Service{root: abs, log: log}, nil
}

// Dir returns the managed directory.
func (s *Service) Dir() string { return s.root }

// Sanitize turns a client-supplied name into a safe flat filename with the
// extension matching typ: path separators become underscores and any known
// script extension is replaced.
func Sanitize(name string, typ Type) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	for _, ext := range extensions {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	return name + extensions[typ]
}

// resolve validates name and returns the absolute path under root.
func (s *Service) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &NameError{Name: name, Reason: "empty"}
	}
	if strings.ContainsAny(name, "/\\") || name != filepath.Base(filepath.Clean(name)) {
		return "", &NameError{Name: name, Reason: "path separators are not allowed"}
	}
	full := filepath.Join(s.root, name)
	// The joined path must stay inside root.
	if rel, err := filepath.Rel(s.root, full); err != nil || strings.HasPrefix(rel, "..") {
		return "", &NameError{Name: name, Reason: "outside the script directory"}
	}
	return full, nil
}

// List returns all known scripts sorted by name. Files with other
// extensions are ignored.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		typ, ok := typeForName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:      e.Name(),
			Type:      typ,
			Path:      filepath.Join(s.root, e.Name()),
			SizeBytes: fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Service) Get(name string) (*Script, error) {
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	typ, ok := typeForName(name)
	if !ok {
		return nil, &NameError{Name: name, Reason: "unsupported extension, use .py, .js or .sh"}
	}
	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read script: %w", err)
	}
	return &Script{Name: name, Type: typ, Content: string(b), Path: full}, nil
}

// Create writes a new script. The stored filename is the sanitized form of
// name; creating over an existing file fails with ErrExists.
func (s *Service) Create(name string, typ Type, content string) (*Script, error) {
	if !typ.Valid() {
		return nil, &NameError{Name: name, Reason: "unsupported script type"}
	}
	filename := Sanitize(name, typ)
	full, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(full); err == nil {
		return nil, ErrExists
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	s.log.Info("script created", logx.String("name", filename))
	return &Script{Name: filename, Type: typ, Content: content, Path: full}, nil
}

// Update rewrites a script's content and optionally renames it. Renaming
// onto an existing script fails with ErrExists.
func (s *Service) Update(name, newName string, typ Type, content string) (*Script, error) {
	if !typ.Valid() {
		return nil, &NameError{Name: newName, Reason: "unsupported script type"}
	}
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat script: %w", err)
	}

	filename := Sanitize(newName, typ)
	if filename != name {
		newFull, err := s.resolve(filename)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(newFull); err == nil {
			return nil, ErrExists
		}
		if err := os.Rename(full, newFull); err != nil {
			return nil, fmt.Errorf("rename script: %w", err)
		}
		full = newFull
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	s.log.Info("script updated", logx.String("name", filename))
	return &Script{Name: filename, Type: typ, Content: content, Path: full}, nil
}

func (s *Service) Delete(name string) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete script: %w", err)
	}
	s.log.Info("script deleted", logx.String("name", name))
	return nil
}

// Stats counts scripts and their aggregate size.
func (s *Service) Stats() (Stats, error) {
	infos, err := s.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByType: map[Type]int{}}
	for _, in := range infos {
		st.Total++
		st.ByType[in.Type]++
		st.TotalSizeBytes += in.SizeBytes
	}
	return st, nil
}
