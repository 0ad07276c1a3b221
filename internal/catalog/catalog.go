package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"tcsgo-engine/internal/model"
)

// Suffixes stripped to derive a short base alias, longest first.
var aliasSuffixes = []string{
	"-weapon-case",
	"-souvenir-package",
	"-collection-package",
	"-package",
	"-case",
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]`)

// caseExport is the on-disk wrapper around a container definition.
type caseExport struct {
	SchemaVersion string             `json:"schemaVersion"`
	Case          model.ContainerDef `json:"case"`
}

// Catalog holds the validated container definitions and their alias index.
// Read-only after load; Reload swaps the whole set.
type Catalog struct {
	containers map[string]*model.ContainerDef
	aliases    map[string]string
}

// Load reads every *.json case export in dir (ignoring index.json), validates
// each container, and builds the alias index. Any invalid container fails the
// whole load: weight inconsistencies are fixed in the data, not tolerated at
// roll time.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read case directory: %w", err)
	}

	c := &Catalog{
		containers: make(map[string]*model.ContainerDef),
		aliases:    make(map[string]string),
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.EqualFold(name, "index.json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		var export caseExport
		if err := json.Unmarshal(raw, &export); err != nil {
			return nil, fmt.Errorf("invalid case export %s: %w", name, err)
		}
		def := export.Case
		if def.SchemaVersion == "" {
			def.SchemaVersion = export.SchemaVersion
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("case export %s: %w", name, err)
		}
		if _, exists := c.containers[def.ID]; exists {
			return nil, fmt.Errorf("duplicate container id %q in %s", def.ID, name)
		}
		c.containers[def.ID] = &def
	}

	if len(c.containers) == 0 {
		return nil, fmt.Errorf("no case exports found in %s", dir)
	}

	c.buildAliases()
	log.Printf("[Catalog] Loaded %d containers, %d aliases from %s", len(c.containers), len(c.aliases), dir)
	return c, nil
}

// NewFromDefs builds a catalog from in-memory definitions, used in tests.
func NewFromDefs(defs ...*model.ContainerDef) (*Catalog, error) {
	c := &Catalog{
		containers: make(map[string]*model.ContainerDef),
		aliases:    make(map[string]string),
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		c.containers[def.ID] = def
	}
	c.buildAliases()
	return c, nil
}

// buildAliases derives the alias index: full id, short base with a known
// suffix stripped, and compact alphanumeric forms. A derived alias claimed by
// two containers is dropped; the full id always resolves.
func (c *Catalog) buildAliases() {
	taken := make(map[string]string)   // alias -> container id
	dropped := make(map[string]bool)   // collided derived aliases
	claim := func(alias, id string, derived bool) {
		if alias == "" || dropped[alias] {
			return
		}
		if owner, ok := taken[alias]; ok && owner != id {
			if derived {
				delete(taken, alias)
				dropped[alias] = true
				log.Printf("[Catalog] Alias collision on %q; keeping full ids only", alias)
			}
			return
		}
		taken[alias] = id
	}

	ids := make([]string, 0, len(c.containers))
	for id := range c.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		lower := strings.ToLower(id)
		claim(lower, id, false)

		short := shortBase(lower)
		claim(short, id, true)
		claim(nonAlnumRE.ReplaceAllString(lower, ""), id, true)
		if short != "" {
			claim(nonAlnumRE.ReplaceAllString(short, ""), id, true)
		}
	}
	c.aliases = taken
}

func shortBase(id string) string {
	for _, suffix := range aliasSuffixes {
		if strings.HasSuffix(id, suffix) {
			short := strings.TrimRight(strings.TrimSuffix(id, suffix), "-")
			if short != "" && short != id {
				return short
			}
			return ""
		}
	}
	return ""
}

// Resolve finds a container by id or alias.
func (c *Catalog) Resolve(nameOrAlias string) (*model.ContainerDef, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrAlias))
	id, ok := c.aliases[key]
	if !ok {
		return nil, false
	}
	def, ok := c.containers[id]
	return def, ok
}

// Get returns a container by exact id.
func (c *Catalog) Get(id string) (*model.ContainerDef, bool) {
	def, ok := c.containers[id]
	return def, ok
}

// List returns all container ids sorted.
func (c *Catalog) List() []string {
	ids := make([]string, 0, len(c.containers))
	for id := range c.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
