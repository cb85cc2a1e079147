// Package worlddb stores the generated world map: a SQLite table of tiles
// with terrain attributes, from which the habitable tiles feed the
// population seeder.
package worlddb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ojrac/opensimplex-go"
	_ "modernc.org/sqlite"
)

// Biome classifications assigned from elevation and moisture.
const (
	BiomeOcean     = "ocean"
	BiomeBeach     = "beach"
	BiomeGrassland = "grassland"
	BiomeForest    = "forest"
	BiomeDesert    = "desert"
	BiomeMountain  = "mountain"
	BiomeSnow      = "snow"
)

// Tile is one cell of the world map.
type Tile struct {
	ID        int64   `json:"id"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Elevation float64 `json:"elevation"`
	Moisture  float64 `json:"moisture"`
	Biome     string  `json:"biome"`
	Fertility float64 `json:"fertility"`
	Habitable bool    `json:"habitable"`
}

// DB is the tile database.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tiles (
	id        INTEGER PRIMARY KEY,
	x         INTEGER NOT NULL,
	y         INTEGER NOT NULL,
	elevation REAL    NOT NULL,
	moisture  REAL    NOT NULL,
	biome     TEXT    NOT NULL,
	fertility REAL    NOT NULL,
	habitable INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tiles_habitable ON tiles(habitable);
`

// Open opens (creating if needed) the tile database at path. ":memory:"
// works for tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open world db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply world schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// Generate builds a width by height tile grid from layered simplex noise.
// The same seed always produces the same map.
func Generate(width, height int, seed int64) []Tile {
	elevNoise := opensimplex.NewNormalized(seed)
	moistNoise := opensimplex.NewNormalized(seed + 1)

	tiles := make([]Tile, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			elev := octaves(elevNoise, float64(x), float64(y), 4)
			moist := octaves(moistNoise, float64(x), float64(y), 3)
			biome := classify(elev, moist)
			tile := Tile{
				ID:        int64(y*width + x + 1),
				X:         x,
				Y:         y,
				Elevation: elev,
				Moisture:  moist,
				Biome:     biome,
				Fertility: fertility(biome, moist),
			}
			tile.Habitable = tile.Fertility > 0
			tiles = append(tiles, tile)
		}
	}
	return tiles
}

// octaves sums n layers of noise with halving amplitude and doubling
// frequency, normalized back to [0, 1].
func octaves(n opensimplex.Noise, x, y float64, count int) float64 {
	const baseFreq = 0.05
	total, amp, freq, norm := 0.0, 1.0, baseFreq, 0.0
	for i := 0; i < count; i++ {
		total += amp * n.Eval2(x*freq, y*freq)
		norm += amp
		amp /= 2
		freq *= 2
	}
	return total / norm
}

func classify(elev, moist float64) string {
	switch {
	case elev < 0.3:
		return BiomeOcean
	case elev < 0.35:
		return BiomeBeach
	case elev > 0.8:
		return BiomeSnow
	case elev > 0.65:
		return BiomeMountain
	case moist < 0.25:
		return BiomeDesert
	case moist > 0.6:
		return BiomeForest
	default:
		return BiomeGrassland
	}
}

// fertility scores how well a biome supports settlement. Zero means
// uninhabitable.
func fertility(biome string, moist float64) float64 {
	switch biome {
	case BiomeGrassland:
		return 0.6 + 0.4*moist
	case BiomeForest:
		return 0.5 + 0.3*moist
	case BiomeBeach:
		return 0.3
	default:
		return 0
	}
}

// Replace truncates the tile table and loads the given tiles in one
// transaction.
func (d *DB) Replace(ctx context.Context, tiles []Tile) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tile reload: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tiles`); err != nil {
		return fmt.Errorf("truncate tiles: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles (id, x, y, elevation, moisture, biome, fertility, habitable) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tile insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range tiles {
		if _, err := stmt.ExecContext(ctx, t.ID, t.X, t.Y, t.Elevation, t.Moisture, t.Biome, t.Fertility, t.Habitable); err != nil {
			return fmt.Errorf("insert tile %d: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// HabitableTileIDs returns the ids of every habitable tile, ordered by
// fertility descending so the seeder fills the best land first.
func (d *DB) HabitableTileIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM tiles WHERE habitable = 1 ORDER BY fertility DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query habitable tiles: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Tile loads one tile by id.
func (d *DB) Tile(ctx context.Context, id int64) (Tile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT id, x, y, elevation, moisture, biome, fertility, habitable FROM tiles WHERE id = ?`, id)
	var t Tile
	if err := row.Scan(&t.ID, &t.X, &t.Y, &t.Elevation, &t.Moisture, &t.Biome, &t.Fertility, &t.Habitable); err != nil {
		if err == sql.ErrNoRows {
			return Tile{}, fmt.Errorf("tile %d not found", id)
		}
		return Tile{}, err
	}
	return t, nil
}

// All returns every tile ordered by id.
func (d *DB) All(ctx context.Context) ([]Tile, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, x, y, elevation, moisture, biome, fertility, habitable FROM tiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tiles: %w", err)
	}
	defer rows.Close()
	var tiles []Tile
	for rows.Next() {
		var t Tile
		if err := rows.Scan(&t.ID, &t.X, &t.Y, &t.Elevation, &t.Moisture, &t.Biome, &t.Fertility, &t.Habitable); err != nil {
			return nil, err
		}
		tiles = append(tiles, t)
	}
	return tiles, rows.Err()
}
