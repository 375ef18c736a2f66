// Package intent maps free-text requests to command identifiers by
// nearest-neighbour search over embedded command descriptions.
package intent

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

//go:embed catalog.json
var defaultCatalog []byte

// Command is one catalog entry: an identifier and the canonical
// description it is matched against.
type Command struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Catalog is an ordered, immutable set of commands. Order matters: it
// breaks similarity ties.
type Catalog struct {
	commands []Command
	index    map[string]int
}

// DefaultCatalog returns the built-in wallet command catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic("intent: built-in catalog invalid: " + err.Error())
	}
	return c
}

// LoadCatalog reads a catalog from a JSON file. An empty path selects
// the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a JSON array of commands.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cmds []Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(cmds)
}

// NewCatalog validates cmds: at least one entry, unique non-empty ids and
// non-empty descriptions.
func NewCatalog(cmds []Command) (*Catalog, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	c := &Catalog{
		commands: make([]Command, len(cmds)),
		index:    make(map[string]int, len(cmds)),
	}
	for i, cmd := range cmds {
		if cmd.ID == "" {
			return nil, fmt.Errorf("command %d has no id", i)
		}
		if cmd.Description == "" {
			return nil, fmt.Errorf("command %q has no description", cmd.ID)
		}
		if _, dup := c.index[cmd.ID]; dup {
			return nil, fmt.Errorf("duplicate command id %q", cmd.ID)
		}
		c.index[cmd.ID] = i
		c.commands[i] = cmd
	}
	return c, nil
}

// Commands returns a copy of the entries in catalog order.
func (c *Catalog) Commands() []Command {
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

// Len returns the number of commands.
func (c *Catalog) Len() int { return len(c.commands) }

// Contains reports whether id names a catalog command.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Position returns the catalog position of id, or -1.
func (c *Catalog) Position(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// Descriptions returns the descriptions in catalog order.
func (c *Catalog) Descriptions() []string {
	out := make([]string, len(c.commands))
	for i, cmd := range c.commands {
		out[i] = cmd.Description
	}
	return out
}

// Fingerprint is a stable hash of the catalog contents and order. Stored
// indexes are keyed by it so a changed catalog never reuses stale vectors.
func (c *Catalog) Fingerprint() string {
	h := blake3.New()
	for _, cmd := range c.commands {
		h.Write([]byte(cmd.ID))
		h.Write([]byte{0})
		h.Write([]byte(cmd.Description))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
