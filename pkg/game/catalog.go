package game

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"claimstakes/pkg/types"
)

//go:embed data/*.json data/schema/*.json
var bundled embed.FS

// Catalog is the read-only reference data the engine ticks against.
type Catalog struct {
	Buildings  map[string]types.Building
	Planets    map[string]types.Planet
	Archetypes map[string]types.Archetype
	Tiers      map[int]types.StakeTier

	// Authoring problems that do not block loading.
	Warnings []string
}

// LoadCatalog reads buildings.json, planets.json, archetypes.json and
// tiers.json from dir.
func LoadCatalog(dir string) (*Catalog, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return loadCatalogFS(os.DirFS(dir), ".")
}

// DefaultCatalog is the bundled data set, used when no data dir is configured.
func DefaultCatalog() *Catalog {
	c, err := loadCatalogFS(bundled, "data")
	if err != nil {
		panic(fmt.Sprintf("bundled catalog: %v", err))
	}
	return c
}

func loadCatalogFS(fsys fs.FS, dir string) (*Catalog, error) {
	c := &Catalog{
		Buildings:  map[string]types.Building{},
		Planets:    map[string]types.Planet{},
		Archetypes: map[string]types.Archetype{},
		Tiers:      map[int]types.StakeTier{},
	}

	var buildings []types.Building
	if err := decodeValidated(fsys, dir, "buildings", &buildings); err != nil {
		return nil, err
	}
	for _, b := range buildings {
		if b.ID == "" {
			return nil, fmt.Errorf("buildings.json: empty id")
		}
		if _, dup := c.Buildings[b.ID]; dup {
			return nil, fmt.Errorf("buildings.json: duplicate id %q", b.ID)
		}
		if b.UpgradeFamily == "" {
			b.UpgradeFamily = b.ID
		}
		if ShadowsLegacyRates(b) {
			c.Warnings = append(c.Warnings, fmt.Sprintf("building %s: resourceRate set, legacy rate fields ignored", b.ID))
		}
		c.Buildings[b.ID] = b
	}

	var archetypes []types.Archetype
	if err := decodeValidated(fsys, dir, "archetypes", &archetypes); err != nil {
		return nil, err
	}
	for _, a := range archetypes {
		if a.ID == "" {
			return nil, fmt.Errorf("archetypes.json: empty id")
		}
		c.Archetypes[a.ID] = a
	}

	var planets []types.Planet
	if err := decodeValidated(fsys, dir, "planets", &planets); err != nil {
		return nil, err
	}
	for _, p := range planets {
		if p.ID == "" {
			return nil, fmt.Errorf("planets.json: empty id")
		}
		if p.Archetype != "" {
			if _, ok := c.Archetypes[p.Archetype]; !ok {
				c.Warnings = append(c.Warnings, fmt.Sprintf("planet %s: unknown archetype %q", p.ID, p.Archetype))
			}
		}
		c.Planets[p.ID] = p
	}

	var tiers []types.StakeTier
	if err := decodeValidated(fsys, dir, "tiers", &tiers); err != nil {
		return nil, err
	}
	for _, t := range tiers {
		if t.DefaultBuilding != "" {
			if _, ok := c.Buildings[t.DefaultBuilding]; !ok {
				return nil, fmt.Errorf("tiers.json: tier %d: unknown default building %q", t.Tier, t.DefaultBuilding)
			}
		}
		c.Tiers[t.Tier] = t
	}

	sort.Strings(c.Warnings)
	return c, nil
}

// decodeValidated checks <name>.json against the bundled <name>.schema.json
// before decoding it into out.
func decodeValidated(fsys fs.FS, dir, name string, out any) error {
	file := name + ".json"
	raw, err := fs.ReadFile(fsys, path.Join(dir, file))
	if err != nil {
		return err
	}

	schema, err := compileSchema(name)
	if err != nil {
		return fmt.Errorf("%s: schema: %w", file, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	return nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := bundled.ReadFile("data/schema/" + name + ".schema.json")
	if err != nil {
		return nil, err
	}
	url := "mem://" + name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// --- Lookups ---

func (c *Catalog) Building(id string) (types.Building, bool) {
	b, ok := c.Buildings[id]
	return b, ok
}

func (c *Catalog) Planet(id string) (types.Planet, bool) {
	p, ok := c.Planets[id]
	return p, ok
}

func (c *Catalog) Tier(tier int) (types.StakeTier, bool) {
	t, ok := c.Tiers[tier]
	return t, ok
}

// BuildingIDs returns every building id, sorted.
func (c *Catalog) BuildingIDs() []string {
	ids := make([]string, 0, len(c.Buildings))
	for id := range c.Buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
