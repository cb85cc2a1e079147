package core

import (
	"context"
	"fmt"

	"villagecore/pkg/domain"
)

// FormNewFamilies runs one matchmaking pass over every active tile. Each
// pass drains both eligibility pools with atomic pops, so two concurrent
// passes never claim the same candidate, pairs the claimed people
// greedily under the age-gap policy, and returns everyone unmatched to
// the pools. Freshly formed families roll the pregnancy chance.
func (e *Engine) FormNewFamilies(ctx context.Context) (int, error) {
	formed := 0
	err := e.observe(ctx, "form_new_families", func() error {
		if err := e.waitReady(ctx); err != nil {
			e.log.Warn("matchmaking pass skipped", "error", err)
			return err
		}
		tiles, err := e.kv.SetMembers(ctx, setTiles)
		if err != nil {
			return fmt.Errorf("list active tiles: %w", err)
		}
		for _, tileID := range tiles {
			n, err := e.matchTile(ctx, tileID)
			if err != nil {
				return fmt.Errorf("match tile %d: %w", tileID, err)
			}
			formed += n
		}
		if formed > 0 {
			if err := e.broadcast.BroadcastUpdate(ctx, string(domain.EventMarriage)); err != nil {
				e.log.Warn("broadcast marriages", "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return formed, nil
}

func (e *Engine) matchTile(ctx context.Context, tileID int64) (int, error) {
	men, err := e.drainEligible(ctx, tileID, domain.SexMale)
	if err != nil {
		return 0, err
	}
	women, err := e.drainEligible(ctx, tileID, domain.SexFemale)
	if err != nil {
		return 0, err
	}

	now := e.cal.CurrentDate()
	formed := 0
	usedWomen := make([]bool, len(women))

	for _, man := range men {
		matched := false
		for i, woman := range women {
			if usedWomen[i] {
				continue
			}
			if !e.compatible(man, woman, now) {
				continue
			}
			fam, err := e.CreateFamily(ctx, man.ID, woman.ID)
			if err != nil {
				if domain.IsConflict(err) {
					// Stale pool entry. Leave both out of the pools; the
					// verifier puts genuinely single people back.
					e.log.Debug("matchmaking conflict", "husband", man.ID, "wife", woman.ID, "error", err)
					usedWomen[i] = true
					matched = true
					break
				}
				return formed, err
			}
			usedWomen[i] = true
			matched = true
			if fam != nil {
				formed++
				e.maybeStartPregnancy(ctx, fam.ID)
			}
			break
		}
		if !matched {
			e.addEligible(ctx, man)
		}
	}
	for i, woman := range women {
		if !usedWomen[i] {
			e.addEligible(ctx, woman)
		}
	}
	return formed, nil
}

// drainEligible pops every candidate of the given sex off the tile's pool
// and loads their records. Entries for people who no longer exist or are
// already partnered are dropped on the floor.
func (e *Engine) drainEligible(ctx context.Context, tileID int64, sex domain.Sex) ([]domain.Person, error) {
	pool := eligibleSet(tileID, sex)
	var out []domain.Person
	for {
		id, ok, err := e.kv.PopFromSet(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("pop from %s: %w", pool, err)
		}
		if !ok {
			return out, nil
		}
		p, err := e.person(ctx, id)
		if err != nil {
			if notFound(err) {
				continue
			}
			return nil, err
		}
		if p.Partnered() || p.Sex != sex {
			continue
		}
		out = append(out, p)
	}
}

// compatible applies the matchmaking policy: both of marriage age, age gap
// within the configured maximum.
func (e *Engine) compatible(man, woman domain.Person, now domain.SimDate) bool {
	manAge := man.Age(now)
	womanAge := woman.Age(now)
	if manAge < e.cfg.MarriageAge || womanAge < e.cfg.MarriageAge {
		return false
	}
	diff := manAge - womanAge
	if diff < 0 {
		diff = -diff
	}
	return diff <= e.cfg.MaxAgeDiff
}
