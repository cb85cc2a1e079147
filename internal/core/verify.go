package core

import (
	"context"
	"fmt"
	"sort"

	"villagecore/pkg/domain"
)

// TileAudit is the per-tile outcome of a dry-run verification.
type TileAudit struct {
	TileID     int64 `json:"tile_id"`
	Duplicates int   `json:"duplicates"`
	Missing    int   `json:"missing"`
}

// AuditReport aggregates tile audits. OK is true when no tile shows a
// duplicate or dangling index entry.
type AuditReport struct {
	OK      bool        `json:"ok"`
	Details []TileAudit `json:"details"`
}

// Audit checks the residency membership sets against the person records
// without repairing anything. Duplicates counts persons indexed in more
// than one residency slot of the tile; Missing counts set members with
// no authoritative record. With no tile ids it covers every active tile.
func (e *Engine) Audit(ctx context.Context, tileIDs ...int64) (AuditReport, error) {
	report := AuditReport{OK: true}
	err := e.observe(ctx, "audit", func() error {
		if err := e.waitReady(ctx); err != nil {
			e.log.Warn("audit skipped", "error", err)
			return err
		}
		persons, err := e.allPersons(ctx)
		if err != nil {
			return err
		}
		personByID := make(map[int64]domain.Person, len(persons))
		for _, p := range persons {
			personByID[p.ID] = p
		}
		if len(tileIDs) == 0 {
			tileIDs, err = e.kv.SetMembers(ctx, setTiles)
			if err != nil {
				return fmt.Errorf("list active tiles: %w", err)
			}
		}
		sort.Slice(tileIDs, func(i, j int) bool { return tileIDs[i] < tileIDs[j] })
		for _, tileID := range tileIDs {
			audit := TileAudit{TileID: tileID}
			memberships := make(map[int64]int)
			for residency := 0; residency < e.cfg.ResidenciesPerTile; residency++ {
				members, err := e.kv.SetMembers(ctx, residencySet(tileID, residency))
				if err != nil {
					return fmt.Errorf("read tile %d slot %d: %w", tileID, residency, err)
				}
				for _, id := range members {
					if _, ok := personByID[id]; !ok {
						audit.Missing++
						continue
					}
					memberships[id]++
				}
			}
			for _, n := range memberships {
				if n > 1 {
					audit.Duplicates++
				}
			}
			if audit.Duplicates > 0 || audit.Missing > 0 {
				report.OK = false
			}
			report.Details = append(report.Details, audit)
		}
		return nil
	})
	return report, err
}

// VerifyReport summarizes one verifier pass.
type VerifyReport struct {
	DuplicatesRemoved  int           `json:"duplicates_removed"`
	MissingIndexed     int           `json:"missing_indexed"`
	OrphansRemoved     int           `json:"orphans_removed"`
	PoolsReplenished   int           `json:"pools_replenished"`
	FamiliesDissolved  int           `json:"families_dissolved"`
	ReferencesRepaired int           `json:"references_repaired"`
	RuleResult         domain.Result `json:"rule_result"`
}

// VerifyAndRepair reconciles the membership indexes with the
// authoritative record maps and repairs dangling cross-references, then
// evaluates the consistency rules on the repaired state. The maps win
// every disagreement: a set member with no record is an orphan, a record
// absent from every residency set gets indexed at its recorded residency.
// A person found in several residency slots keeps the one matching their
// record, or failing that the lowest-numbered slot.
//
// With failHard set, a blocking rule violation after repair is returned
// as an error; otherwise violations are logged and included in the
// report.
func (e *Engine) VerifyAndRepair(ctx context.Context, failHard bool) (VerifyReport, error) {
	var report VerifyReport
	err := e.observe(ctx, "verify_and_repair", func() error {
		if err := e.waitReady(ctx); err != nil {
			e.log.Warn("verifier pass skipped", "error", err)
			return err
		}
		persons, err := e.allPersons(ctx)
		if err != nil {
			return err
		}
		families, err := e.allFamilies(ctx)
		if err != nil {
			return err
		}
		personByID := make(map[int64]domain.Person, len(persons))
		for _, p := range persons {
			personByID[p.ID] = p
		}
		familyByID := make(map[int64]domain.Family, len(families))
		for _, f := range families {
			familyByID[f.ID] = f
		}

		if err := e.repairResidencyIndexes(ctx, persons, personByID, &report); err != nil {
			return err
		}
		if err := e.repairFamilyReferences(ctx, personByID, familyByID, &report); err != nil {
			return err
		}
		if err := e.repairEligibilityPools(ctx, personByID, familyByID, &report); err != nil {
			return err
		}

		// Re-read for rule evaluation so rules see the repaired state.
		persons, err = e.allPersons(ctx)
		if err != nil {
			return err
		}
		families, err = e.allFamilies(ctx)
		if err != nil {
			return err
		}
		view := storeView{persons: persons, families: families, date: e.cal.CurrentDate()}
		result, err := e.rules.Evaluate(ctx, view)
		if err != nil {
			return fmt.Errorf("evaluate rules: %w", err)
		}
		report.RuleResult = result
		for _, v := range result.Violations {
			e.log.Warn("consistency rule violation",
				"rule", v.Rule, "severity", v.Severity, "message", v.Message)
		}
		if failHard && result.HasBlocking() {
			return fmt.Errorf("verification failed: %d blocking violations remain after repair", len(result.Violations))
		}
		return nil
	})
	return report, err
}

// repairResidencyIndexes reconciles every (tile, residency) membership set
// against the person records.
func (e *Engine) repairResidencyIndexes(ctx context.Context, persons []domain.Person, personByID map[int64]domain.Person, report *VerifyReport) error {
	tiles, err := e.kv.SetMembers(ctx, setTiles)
	if err != nil {
		return fmt.Errorf("list active tiles: %w", err)
	}

	// seen maps person id to the residency slot they were kept in.
	seen := make(map[int64]int, len(persons))
	for _, tileID := range tiles {
		for residency := 0; residency < e.cfg.ResidenciesPerTile; residency++ {
			setName := residencySet(tileID, residency)
			members, err := e.kv.SetMembers(ctx, setName)
			if err != nil {
				return fmt.Errorf("read %s: %w", setName, err)
			}
			for _, id := range members {
				p, exists := personByID[id]
				if !exists {
					if err := e.kv.RemoveFromSet(ctx, setName, id); err != nil {
						return fmt.Errorf("drop orphan %d from %s: %w", id, setName, err)
					}
					report.OrphansRemoved++
					e.log.Info("verifier removed orphan index entry", "person", id, "set", setName)
					continue
				}
				if p.TileID != tileID {
					if err := e.kv.RemoveFromSet(ctx, setName, id); err != nil {
						return fmt.Errorf("drop misplaced %d from %s: %w", id, setName, err)
					}
					report.DuplicatesRemoved++
					continue
				}
				if _, dup := seen[id]; !dup {
					seen[id] = residency
					continue
				}
				// Duplicate within the tile. Keep the recorded residency,
				// else the lowest slot already seen.
				keep := seen[id]
				if residency == p.Residency && keep != p.Residency {
					if err := e.kv.RemoveFromSet(ctx, residencySet(tileID, keep), id); err != nil {
						return fmt.Errorf("drop duplicate %d from slot %d: %w", id, keep, err)
					}
					seen[id] = residency
				} else {
					if err := e.kv.RemoveFromSet(ctx, setName, id); err != nil {
						return fmt.Errorf("drop duplicate %d from slot %d: %w", id, residency, err)
					}
				}
				report.DuplicatesRemoved++
				e.log.Info("verifier removed duplicate index entry", "person", id, "tile", tileID)
			}
		}
	}

	for _, p := range persons {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		if err := e.kv.AddToSet(ctx, residencySet(p.TileID, p.Residency), p.ID); err != nil {
			return fmt.Errorf("index missing person %d: %w", p.ID, err)
		}
		if err := e.kv.AddToSet(ctx, setTiles, p.TileID); err != nil {
			return fmt.Errorf("activate tile %d: %w", p.TileID, err)
		}
		report.MissingIndexed++
		e.log.Info("verifier indexed missing person", "person", p.ID, "tile", p.TileID, "residency", p.Residency)
	}
	return nil
}

// repairFamilyReferences clears dangling family pointers on persons,
// prunes roster entries for children whose records are gone, and
// dissolves families whose spouses are gone or point elsewhere.
func (e *Engine) repairFamilyReferences(ctx context.Context, personByID map[int64]domain.Person, familyByID map[int64]domain.Family, report *VerifyReport) error {
	now := e.cal.CurrentDate()

	for id, p := range personByID {
		if p.FamilyID == nil {
			continue
		}
		fam, ok := familyByID[*p.FamilyID]
		if ok && (fam.HusbandID == id || fam.WifeID == id) {
			continue
		}
		p.FamilyID = nil
		if err := e.putPerson(ctx, p); err != nil {
			return err
		}
		personByID[id] = p
		if p.Age(now) >= e.cfg.MarriageAge {
			e.addEligible(ctx, p)
		}
		report.ReferencesRepaired++
		e.log.Info("verifier cleared dangling family pointer", "person", id)
	}

	for id, fam := range familyByID {
		husband, hok := personByID[fam.HusbandID]
		wife, wok := personByID[fam.WifeID]
		intact := hok && wok &&
			husband.FamilyID != nil && *husband.FamilyID == id &&
			wife.FamilyID != nil && *wife.FamilyID == id
		if intact {
			// Children whose records are gone stay listed in the roster
			// when a death raced the family lock. Strike them now.
			kept := fam.ChildrenIDs[:0]
			for _, childID := range fam.ChildrenIDs {
				if _, ok := personByID[childID]; ok {
					kept = append(kept, childID)
				}
			}
			if dropped := len(fam.ChildrenIDs) - len(kept); dropped > 0 {
				fam.ChildrenIDs = kept
				if err := e.putFamily(ctx, fam); err != nil {
					return err
				}
				familyByID[id] = fam
				report.ReferencesRepaired += dropped
				e.log.Info("verifier pruned dead children from roster", "family", id, "removed", dropped)
			}
			continue
		}
		// A missing or repointed spouse means a death or a lost creation
		// race left this family half-written. Dissolve it.
		deceased := fam.HusbandID
		if hok {
			deceased = fam.WifeID
		}
		if err := e.dissolveFamily(ctx, fam, deceased); err != nil {
			return fmt.Errorf("dissolve broken family %d: %w", id, err)
		}
		delete(familyByID, id)
		survivorID := fam.HusbandID
		if deceased == fam.HusbandID {
			survivorID = fam.WifeID
		}
		if survivor, ok := personByID[survivorID]; ok {
			survivor.FamilyID = nil
			personByID[survivorID] = survivor
		}
		report.FamiliesDissolved++
		e.log.Info("verifier dissolved broken family", "family", id)
	}
	return nil
}

// repairEligibilityPools rebuilds the matchmaking and pregnancy pools
// from the records: partnered, missing, or underage members are dropped,
// and unpartnered marriage-age adults are added back to their tile's
// pool. Non-pregnant families with a fertile wife return to the
// pregnancy pool the same way.
func (e *Engine) repairEligibilityPools(ctx context.Context, personByID map[int64]domain.Person, familyByID map[int64]domain.Family, report *VerifyReport) error {
	now := e.cal.CurrentDate()

	// wanted maps each pool to the person ids its records say belong there.
	wanted := make(map[string]map[int64]bool)
	for id, p := range personByID {
		if p.Partnered() || p.Age(now) < e.cfg.MarriageAge {
			continue
		}
		pool := eligibleSet(p.TileID, p.Sex)
		if wanted[pool] == nil {
			wanted[pool] = make(map[int64]bool)
		}
		wanted[pool][id] = true
	}

	tiles, err := e.kv.SetMembers(ctx, setTiles)
	if err != nil {
		return fmt.Errorf("list active tiles: %w", err)
	}
	for _, tileID := range tiles {
		for _, sex := range []domain.Sex{domain.SexMale, domain.SexFemale} {
			pool := eligibleSet(tileID, sex)
			members, err := e.kv.SetMembers(ctx, pool)
			if err != nil {
				return fmt.Errorf("read %s: %w", pool, err)
			}
			for _, id := range members {
				if wanted[pool][id] {
					delete(wanted[pool], id)
					continue
				}
				if err := e.kv.RemoveFromSet(ctx, pool, id); err != nil {
					return fmt.Errorf("drop stale candidate %d from %s: %w", id, pool, err)
				}
				report.OrphansRemoved++
			}
		}
	}
	for pool, ids := range wanted {
		for id := range ids {
			if err := e.kv.AddToSet(ctx, pool, id); err != nil {
				return fmt.Errorf("pool candidate %d into %s: %w", id, pool, err)
			}
			report.PoolsReplenished++
			e.log.Info("verifier pooled eligible person", "person", id, "set", pool)
		}
	}

	wantedFamilies := make(map[int64]bool)
	for id, fam := range familyByID {
		wife, ok := personByID[fam.WifeID]
		if !ok || fam.Pregnancy || wife.Age(now) > e.cfg.FertilityCeiling {
			continue
		}
		wantedFamilies[id] = true
	}
	pregnable, err := e.kv.SetMembers(ctx, setPregnancyEligible)
	if err != nil {
		return fmt.Errorf("read pregnancy pool: %w", err)
	}
	for _, id := range pregnable {
		if wantedFamilies[id] {
			delete(wantedFamilies, id)
			continue
		}
		if err := e.kv.RemoveFromSet(ctx, setPregnancyEligible, id); err != nil {
			return fmt.Errorf("drop stale family %d from pregnancy pool: %w", id, err)
		}
		report.OrphansRemoved++
	}
	for id := range wantedFamilies {
		if err := e.kv.AddToSet(ctx, setPregnancyEligible, id); err != nil {
			return fmt.Errorf("pool family %d for pregnancy: %w", id, err)
		}
		report.PoolsReplenished++
		e.log.Info("verifier pooled family for pregnancy", "family", id)
	}
	return nil
}
