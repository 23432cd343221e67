package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"killtracker/internal/feed"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SecSpace is the security classification of a solar system.
type SecSpace int

const (
	SecUnknown SecSpace = iota
	HighSec
	LowSec
	NullSec
	WSpace
)

func (s SecSpace) String() string {
	switch s {
	case HighSec:
		return "high-sec"
	case LowSec:
		return "low-sec"
	case NullSec:
		return "null-sec"
	case WSpace:
		return "w-space"
	default:
		return "unknown"
	}
}

const (
	wormholeMinID = 31000000
	wormholeMaxID = 31999999
)

// Classify derives the sec-space of a solar system from its id and true
// security status.
func Classify(systemID int64, security float64) SecSpace {
	if systemID >= wormholeMinID && systemID <= wormholeMaxID {
		return WSpace
	}
	rounded := math.Round(security*10) / 10
	switch {
	case rounded >= 0.5:
		return HighSec
	case security > 0:
		return LowSec
	default:
		return NullSec
	}
}

// SolarSystem is the static information the matcher needs about a system.
type SolarSystem struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Security        float64 `json:"security_status"`
	ConstellationID int64   `json:"constellation_id"`
	RegionID        int64   `json:"region_id"`
}

func (s SolarSystem) SecSpace() SecSpace {
	return Classify(s.ID, s.Security)
}

// Lookup answers static universe questions without I/O.
type Lookup interface {
	SolarSystem(id int64) (SolarSystem, bool)
	ShipGroupID(typeID int64) (int64, bool)
}

// ESI is the part of the ESI client used to fill the catalog.
type ESI interface {
	SolarSystem(ctx context.Context, id int64) (*feed.ESISolarSystem, error)
	Constellation(ctx context.Context, id int64) (*feed.ESIConstellation, error)
	Type(ctx context.Context, id int64) (*feed.ESIType, error)
}

type catalogFile struct {
	SolarSystems []SolarSystem   `json:"solar_systems"`
	ShipGroups   map[int64]int64 `json:"ship_groups"`
}

// Catalog is an in-memory Lookup that can be filled from a file and from ESI.
type Catalog struct {
	mu         sync.RWMutex
	systems    map[int64]SolarSystem
	shipGroups map[int64]int64
	esi        ESI
	fetchLimit int
	logger     *zap.Logger
}

// NewCatalog creates an empty catalog. esi may be nil.
func NewCatalog(esi ESI, logger *zap.Logger) *Catalog {
	return &Catalog{
		systems:    make(map[int64]SolarSystem),
		shipGroups: make(map[int64]int64),
		esi:        esi,
		fetchLimit: 10,
		logger:     logger.Named("universe"),
	}
}

func (c *Catalog) SolarSystem(id int64) (SolarSystem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.systems[id]
	return s, ok
}

func (c *Catalog) ShipGroupID(typeID int64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.shipGroups[typeID]
	return g, ok
}

// AddSolarSystem stores s, replacing an existing entry.
func (c *Catalog) AddSolarSystem(s SolarSystem) {
	c.mu.Lock()
	c.systems[s.ID] = s
	c.mu.Unlock()
}

// AddShipGroup records the group of a ship type.
func (c *Catalog) AddShipGroup(typeID, groupID int64) {
	c.mu.Lock()
	c.shipGroups[typeID] = groupID
	c.mu.Unlock()
}

// Len returns the number of known solar systems and ship types.
func (c *Catalog) Len() (systems, types int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.systems), len(c.shipGroups)
}

// LoadFile merges a catalog file into c. A missing file is not an error.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.logger.Info("universe catalog file not found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read universe catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse universe catalog: %w", err)
	}

	c.mu.Lock()
	for _, s := range f.SolarSystems {
		c.systems[s.ID] = s
	}
	for typeID, groupID := range f.ShipGroups {
		c.shipGroups[typeID] = groupID
	}
	c.mu.Unlock()

	systems, types := c.Len()
	c.logger.Info("loaded universe catalog", zap.Int("solar_systems", systems), zap.Int("ship_types", types))
	return nil
}

// SaveFile writes the catalog so the next start needs fewer ESI calls.
func (c *Catalog) SaveFile(path string) error {
	c.mu.RLock()
	f := catalogFile{
		SolarSystems: make([]SolarSystem, 0, len(c.systems)),
		ShipGroups:   make(map[int64]int64, len(c.shipGroups)),
	}
	for _, s := range c.systems {
		f.SolarSystems = append(f.SolarSystems, s)
	}
	for typeID, groupID := range c.shipGroups {
		f.ShipGroups[typeID] = groupID
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureSolarSystems fetches unknown systems from ESI.
func (c *Catalog) EnsureSolarSystems(ctx context.Context, ids ...int64) error {
	missing := c.missing(ids, func(id int64) bool { _, ok := c.SolarSystem(id); return ok })
	if len(missing) == 0 || c.esi == nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchLimit)
	for _, id := range missing {
		id := id
		g.Go(func() error {
			system, err := c.esi.SolarSystem(ctx, id)
			if err != nil {
				return fmt.Errorf("solar system %d: %w", id, err)
			}
			constellation, err := c.esi.Constellation(ctx, system.ConstellationID)
			if err != nil {
				return fmt.Errorf("constellation %d: %w", system.ConstellationID, err)
			}
			c.AddSolarSystem(SolarSystem{
				ID:              id,
				Name:            system.Name,
				Security:        system.SecurityStatus,
				ConstellationID: system.ConstellationID,
				RegionID:        constellation.RegionID,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load solar systems: %w", err)
	}
	c.logger.Debug("fetched solar systems", zap.Int("count", len(missing)))
	return nil
}

// EnsureShipTypes fetches the group of unknown ship types from ESI.
func (c *Catalog) EnsureShipTypes(ctx context.Context, ids ...int64) error {
	missing := c.missing(ids, func(id int64) bool { _, ok := c.ShipGroupID(id); return ok })
	if len(missing) == 0 || c.esi == nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchLimit)
	for _, id := range missing {
		id := id
		g.Go(func() error {
			typ, err := c.esi.Type(ctx, id)
			if err != nil {
				return fmt.Errorf("type %d: %w", id, err)
			}
			c.AddShipGroup(id, typ.GroupID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load ship types: %w", err)
	}
	return nil
}

func (c *Catalog) missing(ids []int64, known func(int64) bool) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	var out []int64
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == 0 || known(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
