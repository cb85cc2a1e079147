package core

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"villagecore/pkg/domain"
)

// SeedOptions shape a bulk seeding pass.
type SeedOptions struct {
	// TargetPerTile is the population every seeded tile converges on.
	// Tiles above it are trimmed, tiles below it are filled, and the
	// seeder never overshoots.
	TargetPerTile int
	// BachelorRatio is the fraction of newly created adults left
	// unpartnered and placed in the matchmaking pools.
	BachelorRatio float64
	// PregnantRatio is the fraction of newly created couples that start
	// seeded already pregnant.
	PregnantRatio float64
	// MinorRatio is the fraction of the fill created as children and
	// attached to seeded families.
	MinorRatio float64
	// Concurrency bounds how many tiles are seeded in parallel.
	Concurrency int
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.TargetPerTile <= 0 {
		o.TargetPerTile = 40
	}
	// Zero means "use the default"; a negative ratio disables the
	// behavior outright.
	if o.BachelorRatio == 0 {
		o.BachelorRatio = 0.2
	}
	if o.PregnantRatio == 0 {
		o.PregnantRatio = 0.3
	}
	if o.MinorRatio == 0 {
		o.MinorRatio = 0.25
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	return o
}

// SeedReport summarizes one seeding pass.
type SeedReport struct {
	TilesSeeded     int `json:"tiles_seeded"`
	PersonsCreated  int `json:"persons_created"`
	PersonsTrimmed  int `json:"persons_trimmed"`
	FamiliesFormed  int `json:"families_formed"`
	MinorsCreated   int `json:"minors_created"`
	PregnanciesSown int `json:"pregnancies_sown"`
}

// SeedTiles drives every listed tile to the target population, fanning
// tiles out across a bounded worker group. New adults arrive in couples
// with a bachelor quota left single for matchmaking; a fraction of the
// couples start pregnant and a fraction of the fill arrives as children
// attached to the seeded families. Overfull tiles are trimmed
// deterministically, childless singles first and highest ids first, so
// repeated seeding of the same state removes the same people.
func (e *Engine) SeedTiles(ctx context.Context, tileIDs []int64, opts SeedOptions) (SeedReport, error) {
	opts = opts.withDefaults()
	var created, trimmed, formed, minors, sown atomic.Int64
	err := e.observe(ctx, "seed_tiles", func() error {
		if err := e.waitReady(ctx); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for _, tileID := range tileIDs {
			tileID := tileID
			g.Go(func() error {
				rep, err := e.seedTile(gctx, tileID, opts)
				if err != nil {
					return fmt.Errorf("seed tile %d: %w", tileID, err)
				}
				created.Add(int64(rep.PersonsCreated))
				trimmed.Add(int64(rep.PersonsTrimmed))
				formed.Add(int64(rep.FamiliesFormed))
				minors.Add(int64(rep.MinorsCreated))
				sown.Add(int64(rep.PregnanciesSown))
				return nil
			})
		}
		return g.Wait()
	})
	report := SeedReport{
		TilesSeeded:     len(tileIDs),
		PersonsCreated:  int(created.Load()),
		PersonsTrimmed:  int(trimmed.Load()),
		FamiliesFormed:  int(formed.Load()),
		MinorsCreated:   int(minors.Load()),
		PregnanciesSown: int(sown.Load()),
	}
	if err != nil {
		return report, err
	}
	e.log.Info("seeding complete",
		"tiles", report.TilesSeeded, "created", report.PersonsCreated,
		"trimmed", report.PersonsTrimmed, "families", report.FamiliesFormed)
	return report, nil
}

func (e *Engine) seedTile(ctx context.Context, tileID int64, opts SeedOptions) (SeedReport, error) {
	var rep SeedReport
	if err := e.kv.AddToSet(ctx, setTiles, tileID); err != nil {
		return rep, fmt.Errorf("activate tile: %w", err)
	}

	residents, err := e.tileResidents(ctx, tileID)
	if err != nil {
		return rep, err
	}
	current := len(residents)

	if current > opts.TargetPerTile {
		n, err := e.trimTile(ctx, residents, current-opts.TargetPerTile)
		if err != nil {
			return rep, err
		}
		rep.PersonsTrimmed = n
		return rep, nil
	}

	deficit := opts.TargetPerTile - current
	if deficit == 0 {
		return rep, nil
	}

	bachelors := clampCount(int(float64(deficit)*opts.BachelorRatio), deficit)
	minors := clampCount(int(float64(deficit)*opts.MinorRatio), deficit-bachelors)
	couples := (deficit - bachelors - minors) / 2
	if couples == 0 {
		// Children need a family to belong to.
		minors = 0
	}
	// Integer rounding leaves a remainder; fill it with bachelors so the
	// tile lands exactly on target.
	bachelors = deficit - minors - couples*2

	now := e.cal.CurrentDate()
	var formed []int64
	for i := 0; i < couples; i++ {
		husband, err := e.seedPerson(ctx, tileID, domain.SexMale, e.seedAge(true))
		if err != nil {
			return rep, err
		}
		wife, err := e.seedPerson(ctx, tileID, domain.SexFemale, e.seedAge(true))
		if err != nil {
			return rep, err
		}
		rep.PersonsCreated += 2
		fam, err := e.CreateFamily(ctx, husband.ID, wife.ID)
		if err != nil {
			return rep, fmt.Errorf("pair seeded couple: %w", err)
		}
		if fam == nil {
			continue
		}
		formed = append(formed, fam.ID)
		rep.FamiliesFormed++
		if rand.Float64() < opts.PregnantRatio {
			started, err := e.StartPregnancy(ctx, fam.ID)
			if err != nil && !domain.IsIneligible(err) {
				return rep, err
			}
			if started {
				rep.PregnanciesSown++
			}
		}
	}
	for i := 0; i < minors; i++ {
		if len(formed) == 0 {
			// Every couple lost its creation race; backfill with adults
			// so the tile still lands on target.
			bachelors++
			continue
		}
		if _, err := e.seedChild(ctx, formed[i%len(formed)]); err != nil {
			return rep, err
		}
		rep.PersonsCreated++
		rep.MinorsCreated++
	}
	for i := 0; i < bachelors; i++ {
		p, err := e.seedPerson(ctx, tileID, randomSex(), e.seedAge(false))
		if err != nil {
			return rep, err
		}
		rep.PersonsCreated++
		if p.Age(now) >= e.cfg.MarriageAge {
			e.addEligible(ctx, p)
		}
	}
	return rep, nil
}

func clampCount(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// seedChild creates a minor, attaches it to the family's children and
// records the maternal lineage. The family record is re-read first so the
// write-back cannot clobber a pregnancy started since the caller loaded
// it.
func (e *Engine) seedChild(ctx context.Context, familyID int64) (domain.Person, error) {
	fam, err := e.family(ctx, familyID)
	if err != nil {
		return domain.Person{}, err
	}
	father, err := e.person(ctx, fam.HusbandID)
	if err != nil {
		return domain.Person{}, err
	}
	id, err := e.kv.NextID(ctx, seqPerson)
	if err != nil {
		return domain.Person{}, fmt.Errorf("allocate child id: %w", err)
	}
	now := e.cal.CurrentDate()
	ageYears := rand.Intn(e.cfg.MarriageAge)
	sex := randomSex()
	child := domain.Person{
		ID:          id,
		TileID:      father.TileID,
		Residency:   father.Residency,
		Sex:         sex,
		FirstName:   randomFirstName(sex),
		LastName:    father.LastName,
		DateOfBirth: now.AddDays(-ageYears*domain.DaysPerYear - rand.Intn(domain.DaysPerYear)),
		Health:      100,
		MotherID:    &fam.WifeID,
	}
	if err := e.putPerson(ctx, child); err != nil {
		return domain.Person{}, err
	}
	if err := e.kv.AddToSet(ctx, residencySet(child.TileID, child.Residency), id); err != nil {
		return domain.Person{}, fmt.Errorf("index seeded child %d: %w", id, err)
	}
	fam.ChildrenIDs = append(fam.ChildrenIDs, id)
	if err := e.putFamily(ctx, fam); err != nil {
		return domain.Person{}, err
	}
	return child, nil
}

// seedAge picks an age in years. Couples get wives inside the fertility
// window so seeded pregnancies are possible; singles spread wider.
func (e *Engine) seedAge(coupled bool) int {
	if coupled {
		return e.cfg.FertilityFloor + rand.Intn(e.cfg.FertilityCeiling-e.cfg.FertilityFloor+1)
	}
	return e.cfg.MarriageAge + rand.Intn(40)
}

// seedPerson creates one person record with a random residency slot and
// indexes it.
func (e *Engine) seedPerson(ctx context.Context, tileID int64, sex domain.Sex, ageYears int) (domain.Person, error) {
	id, err := e.kv.NextID(ctx, seqPerson)
	if err != nil {
		return domain.Person{}, fmt.Errorf("allocate person id: %w", err)
	}
	now := e.cal.CurrentDate()
	p := domain.Person{
		ID:          id,
		TileID:      tileID,
		Residency:   rand.Intn(e.cfg.ResidenciesPerTile),
		Sex:         sex,
		FirstName:   randomFirstName(sex),
		LastName:    randomLastName(),
		DateOfBirth: now.AddDays(-ageYears*domain.DaysPerYear - rand.Intn(domain.DaysPerYear)),
		Health:      100,
	}
	if err := e.putPerson(ctx, p); err != nil {
		return domain.Person{}, err
	}
	if err := e.kv.AddToSet(ctx, residencySet(tileID, p.Residency), id); err != nil {
		return domain.Person{}, fmt.Errorf("index seeded person %d: %w", id, err)
	}
	return p, nil
}

// unlinkChild removes a trimmed child from its mother's family record.
func (e *Engine) unlinkChild(ctx context.Context, motherID, childID int64) error {
	mother, err := e.person(ctx, motherID)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	if mother.FamilyID == nil {
		return nil
	}
	fam, err := e.family(ctx, *mother.FamilyID)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}
	kept := fam.ChildrenIDs[:0]
	for _, id := range fam.ChildrenIDs {
		if id != childID {
			kept = append(kept, id)
		}
	}
	fam.ChildrenIDs = kept
	return e.putFamily(ctx, fam)
}

// tileResidents lists every person of one tile through its residency
// sets.
func (e *Engine) tileResidents(ctx context.Context, tileID int64) ([]domain.Person, error) {
	var out []domain.Person
	for residency := 0; residency < e.cfg.ResidenciesPerTile; residency++ {
		members, err := e.kv.SetMembers(ctx, residencySet(tileID, residency))
		if err != nil {
			return nil, fmt.Errorf("read residency %d: %w", residency, err)
		}
		for _, id := range members {
			p, err := e.person(ctx, id)
			if err != nil {
				if notFound(err) {
					continue
				}
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// trimTile removes n residents administratively. Trim order is
// deterministic: childless unpartnered people first, then everyone else,
// highest id first within each class. No death event is recorded.
func (e *Engine) trimTile(ctx context.Context, residents []domain.Person, n int) (int, error) {
	hasChildren := make(map[int64]bool)
	for _, p := range residents {
		if p.MotherID != nil {
			hasChildren[*p.MotherID] = true
		}
	}
	order := make([]domain.Person, len(residents))
	copy(order, residents)
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		aSingle := !a.Partnered() && !hasChildren[a.ID]
		bSingle := !b.Partnered() && !hasChildren[b.ID]
		if aSingle != bSingle {
			return aSingle
		}
		return a.ID > b.ID
	})

	trimmed := 0
	for _, p := range order {
		if trimmed >= n {
			break
		}
		if p.Partnered() {
			// Spouses leave together with their family record, keeping
			// the symmetry invariant intact.
			fam, err := e.family(ctx, *p.FamilyID)
			if err != nil {
				if !notFound(err) {
					return trimmed, err
				}
			} else {
				if err := e.dissolveFamily(ctx, fam, p.ID); err != nil {
					return trimmed, err
				}
			}
		}
		if p.MotherID != nil {
			if err := e.unlinkChild(ctx, *p.MotherID, p.ID); err != nil {
				return trimmed, err
			}
		}
		if err := e.kv.DeleteRecord(ctx, mapPeople, p.ID); err != nil {
			return trimmed, fmt.Errorf("trim person %d: %w", p.ID, err)
		}
		if err := e.kv.RemoveFromSet(ctx, residencySet(p.TileID, p.Residency), p.ID); err != nil {
			e.log.Warn("unindex trimmed person", "person", p.ID, "error", err)
		}
		e.removeEligible(ctx, p)
		trimmed++
	}
	return trimmed, nil
}
