package graph

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type graphFile struct {
	Databases []databaseFile `yaml:"databases"`
}

type databaseFile struct {
	Name       string     `yaml:"name"`
	Depends    []string   `yaml:"depends,omitempty"`
	Activities []Activity `yaml:"activities"`
}

// LoadMemory decodes a YAML graph. Activity databases, exchange outputs and
// input databases default to the enclosing database.
func LoadMemory(r io.Reader) (*Memory, error) {
	var file graphFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse graph: %w", err)
	}

	m := NewMemory()
	for _, db := range file.Databases {
		if db.Name == "" {
			return nil, fmt.Errorf("failed to parse graph: database without name")
		}
		for i := range db.Activities {
			activity := &db.Activities[i]
			activity.Database = db.Name
			for j := range activity.Exchanges {
				exchange := &activity.Exchanges[j]
				exchange.Output = activity.Key()
				if exchange.Input.Database == "" {
					exchange.Input.Database = db.Name
				}
			}
		}
		m.put(db.Name, db.Depends, db.Activities)
	}
	return m, nil
}

func LoadMemoryFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer f.Close()
	return LoadMemory(f)
}

// Save encodes m in the format read by LoadMemory.
func (m *Memory) Save(w io.Writer) error {
	m.mu.RLock()
	file := graphFile{Databases: make([]databaseFile, 0, len(m.order))}
	for _, name := range m.order {
		db := m.databases[name]
		file.Databases = append(file.Databases, databaseFile{
			Name:       name,
			Depends:    db.depends,
			Activities: db.activities,
		})
	}
	m.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return enc.Close()
}

func (m *Memory) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
