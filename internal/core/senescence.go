package core

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"villagecore/pkg/domain"
)

// Annual mortality by age bracket. Each entry applies from its floor age
// up to the next entry's floor.
var mortalityBrackets = []struct {
	minAge int
	annual float64
}{
	{0, 0.05},
	{5, 0.005},
	{15, 0.002},
	{30, 0.003},
	{50, 0.01},
	{60, 0.025},
	{70, 0.05},
	{80, 0.12},
	{90, 0.25},
	{100, 0.5},
}

// dailyMortality converts the bracketed annual probability into a per-day
// probability on the simulated calendar.
func dailyMortality(age int) float64 {
	annual := mortalityBrackets[0].annual
	for _, b := range mortalityBrackets {
		if age >= b.minAge {
			annual = b.annual
		}
	}
	return 1 - math.Pow(1-annual, 1.0/float64(domain.DaysPerYear))
}

// ApplySenescence runs one daily mortality pass over the whole
// population. Each person rolls their bracket's daily probability; at the
// mortality ceiling death is certain. Returns the number of deaths.
func (e *Engine) ApplySenescence(ctx context.Context) (int, error) {
	deaths := 0
	err := e.observe(ctx, "apply_senescence", func() error {
		if err := e.waitReady(ctx); err != nil {
			e.log.Warn("senescence pass skipped", "error", err)
			return err
		}
		persons, err := e.allPersons(ctx)
		if err != nil {
			return err
		}
		now := e.cal.CurrentDate()
		for _, p := range persons {
			age := p.Age(now)
			if age < e.cfg.MortalityCeiling && rand.Float64() >= dailyMortality(age) {
				continue
			}
			if err := e.recordDeath(ctx, p); err != nil {
				return fmt.Errorf("record death of %d: %w", p.ID, err)
			}
			deaths++
		}
		if deaths > 0 {
			if err := e.broadcast.BroadcastUpdate(ctx, string(domain.EventDeath)); err != nil {
				e.log.Warn("broadcast deaths", "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deaths, nil
}

// recordDeath removes the person and, for a spouse, dissolves the family
// under its lock. A child is also struck from their mother's family
// roster. When the family lock is contended the person is removed
// anyway; the orphaned family reference is exactly what the integrity
// verifier repairs on its next pass.
func (e *Engine) recordDeath(ctx context.Context, p domain.Person) error {
	if p.FamilyID != nil {
		familyID := *p.FamilyID
		lockName := familyLockName(familyID)
		token, ok, err := e.locks.Acquire(ctx, lockName, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire family lock: %w", err)
		}
		if ok {
			fam, err := e.family(ctx, familyID)
			switch {
			case err == nil:
				if err := e.dissolveFamily(ctx, fam, p.ID); err != nil {
					if _, rerr := e.locks.Release(ctx, lockName, token); rerr != nil {
						e.log.Warn("release family lock", "lock", lockName, "error", rerr)
					}
					return err
				}
			case notFound(err):
				// Already dissolved.
			default:
				if _, rerr := e.locks.Release(ctx, lockName, token); rerr != nil {
					e.log.Warn("release family lock", "lock", lockName, "error", rerr)
				}
				return err
			}
			if _, err := e.locks.Release(ctx, lockName, token); err != nil {
				e.log.Warn("release family lock", "lock", lockName, "error", err)
			}
		} else {
			e.log.Warn("family lock contended during death, deferring cleanup to verifier",
				"person", p.ID, "family", familyID)
		}
	}

	if p.MotherID != nil {
		if err := e.unlinkChild(ctx, *p.MotherID, p.ID); err != nil {
			e.log.Warn("unlink deceased child, deferring to verifier",
				"person", p.ID, "mother", *p.MotherID, "error", err)
		}
	}

	if err := e.kv.DeleteRecord(ctx, mapPeople, p.ID); err != nil {
		return fmt.Errorf("delete person %d: %w", p.ID, err)
	}
	if err := e.kv.RemoveFromSet(ctx, residencySet(p.TileID, p.Residency), p.ID); err != nil {
		e.log.Warn("unindex deceased residency", "person", p.ID, "error", err)
	}
	e.removeEligible(ctx, p)

	e.appendEvent(ctx, domain.EventDeath, &p.ID, p.FamilyID)
	e.log.Info("person died", "person", p.ID, "age", p.Age(e.cal.CurrentDate()))
	return nil
}
