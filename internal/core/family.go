package core

import (
	"context"
	"fmt"
	"math/rand"

	"villagecore/pkg/domain"
)

// CreateFamily pairs two unpartnered adults into a new family. The pair
// lock serializes concurrent attempts for the same two people; losing the
// lock returns (nil, nil) because the winner is already doing the work.
// A partnered participant after the recheck returns ConflictError, which
// callers must not retry.
func (e *Engine) CreateFamily(ctx context.Context, husbandID, wifeID int64) (*domain.Family, error) {
	var created *domain.Family
	err := e.observe(ctx, "create_family", func() error {
		if husbandID == wifeID {
			return domain.ConflictError{HusbandID: husbandID, WifeID: wifeID, Reason: "same person on both sides"}
		}
		lockName := pairLockName(husbandID, wifeID)
		token, ok, err := e.locks.Acquire(ctx, lockName, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire pair lock: %w", err)
		}
		if !ok {
			e.log.Debug("pair lock contended", "husband", husbandID, "wife", wifeID)
			return nil
		}
		defer func() {
			if _, err := e.locks.Release(ctx, lockName, token); err != nil {
				e.log.Warn("release pair lock", "lock", lockName, "error", err)
			}
		}()

		// Recheck under the lock. Membership may have changed between the
		// caller's decision and this point.
		husband, err := e.person(ctx, husbandID)
		if err != nil {
			return err
		}
		wife, err := e.person(ctx, wifeID)
		if err != nil {
			return err
		}
		if husband.Sex != domain.SexMale || wife.Sex != domain.SexFemale {
			return domain.ConflictError{HusbandID: husbandID, WifeID: wifeID, Reason: "sexes do not match roles"}
		}
		if husband.Partnered() {
			return domain.ConflictError{HusbandID: husbandID, WifeID: wifeID, Reason: fmt.Sprintf("person %d already partnered", husbandID)}
		}
		if wife.Partnered() {
			return domain.ConflictError{HusbandID: husbandID, WifeID: wifeID, Reason: fmt.Sprintf("person %d already partnered", wifeID)}
		}

		familyID, err := e.kv.NextID(ctx, seqFamily)
		if err != nil {
			return fmt.Errorf("allocate family id: %w", err)
		}
		fam := domain.Family{
			ID:          familyID,
			HusbandID:   husbandID,
			WifeID:      wifeID,
			TileID:      husband.TileID,
			ChildrenIDs: []int64{},
		}
		if err := e.putFamily(ctx, fam); err != nil {
			return err
		}

		husband.FamilyID = &familyID
		wife.FamilyID = &familyID
		if err := e.putPerson(ctx, husband); err != nil {
			return err
		}
		if err := e.putPerson(ctx, wife); err != nil {
			return err
		}

		// Index upkeep. These are separate keys; a crash between them is
		// what the verifier repairs.
		e.removeEligible(ctx, husband)
		e.removeEligible(ctx, wife)
		if err := e.kv.AddToSet(ctx, setPregnancyEligible, familyID); err != nil {
			e.log.Warn("index family for pregnancy", "family", familyID, "error", err)
		}

		e.appendEvent(ctx, domain.EventMarriage, nil, &familyID)
		e.log.Info("family created", "family", familyID, "husband", husbandID, "wife", wifeID)
		created = &fam
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// StartPregnancy marks the family pregnant with a delivery date one
// gestation period out. The family lock serializes against delivery and
// dissolution; contention returns (false, nil). Policy rejections come
// back as IneligibleError.
func (e *Engine) StartPregnancy(ctx context.Context, familyID int64) (bool, error) {
	started := false
	err := e.observe(ctx, "start_pregnancy", func() error {
		lockName := familyLockName(familyID)
		token, ok, err := e.locks.Acquire(ctx, lockName, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire family lock: %w", err)
		}
		if !ok {
			e.log.Debug("family lock contended", "family", familyID, "op", "start_pregnancy")
			return nil
		}
		defer func() {
			if _, err := e.locks.Release(ctx, lockName, token); err != nil {
				e.log.Warn("release family lock", "lock", lockName, "error", err)
			}
		}()

		fam, err := e.family(ctx, familyID)
		if err != nil {
			return err
		}
		if fam.Pregnancy {
			return domain.IneligibleError{FamilyID: familyID, Reason: "already pregnant"}
		}
		now := e.cal.CurrentDate()
		wife, err := e.person(ctx, fam.WifeID)
		if err != nil {
			return err
		}
		if age := wife.Age(now); age < e.cfg.FertilityFloor || age > e.cfg.FertilityCeiling {
			return domain.IneligibleError{FamilyID: familyID, Reason: fmt.Sprintf("wife age %d outside fertility window", age)}
		}
		if fam.LastDelivery != nil && fam.LastDelivery.MonthsUntil(now) < e.cfg.BirthIntervalMonths {
			return domain.IneligibleError{FamilyID: familyID, Reason: "birth interval not elapsed"}
		}

		due := now.AddMonths(e.cfg.GestationMonths)
		fam.Pregnancy = true
		fam.DeliveryDate = &due
		if err := e.putFamily(ctx, fam); err != nil {
			return err
		}
		if err := e.kv.RemoveFromSet(ctx, setPregnancyEligible, familyID); err != nil {
			e.log.Warn("unindex pregnant family", "family", familyID, "error", err)
		}

		e.appendEvent(ctx, domain.EventPregnancyStarted, nil, &familyID)
		e.log.Info("pregnancy started", "family", familyID, "due", due)
		started = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

// DeliverBaby turns a due pregnancy into a newborn person. Lock contention
// returns (nil, nil); the delivery sweep reschedules contended families
// through the retry ledger. A family that turns out not to be due under
// the lock also returns (nil, nil), since someone else already delivered.
func (e *Engine) DeliverBaby(ctx context.Context, familyID int64) (*domain.Person, error) {
	var born *domain.Person
	err := e.observe(ctx, "deliver_baby", func() error {
		lockName := familyLockName(familyID)
		token, ok, err := e.locks.Acquire(ctx, lockName, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire family lock: %w", err)
		}
		if !ok {
			e.log.Debug("family lock contended", "family", familyID, "op", "deliver_baby")
			return nil
		}
		defer func() {
			if _, err := e.locks.Release(ctx, lockName, token); err != nil {
				e.log.Warn("release family lock", "lock", lockName, "error", err)
			}
		}()

		fam, err := e.family(ctx, familyID)
		if err != nil {
			if notFound(err) {
				// Dissolved while waiting to deliver. Nothing to do.
				return nil
			}
			return err
		}
		now := e.cal.CurrentDate()
		if !fam.DueBy(now) {
			return nil
		}
		father, err := e.person(ctx, fam.HusbandID)
		if err != nil {
			return err
		}
		mother, err := e.person(ctx, fam.WifeID)
		if err != nil {
			return err
		}

		childID, err := e.kv.NextID(ctx, seqPerson)
		if err != nil {
			return fmt.Errorf("allocate person id: %w", err)
		}
		sex := randomSex()
		// The newborn moves in with the father, matching the household
		// the family record was created on.
		child := domain.Person{
			ID:          childID,
			TileID:      father.TileID,
			Residency:   father.Residency,
			Sex:         sex,
			FirstName:   randomFirstName(sex),
			LastName:    father.LastName,
			DateOfBirth: now,
			Health:      100,
			MotherID:    &fam.WifeID,
		}
		if err := e.putPerson(ctx, child); err != nil {
			return err
		}

		fam.Pregnancy = false
		fam.DeliveryDate = nil
		fam.LastDelivery = &now
		fam.ChildrenIDs = append(fam.ChildrenIDs, childID)
		if err := e.putFamily(ctx, fam); err != nil {
			return err
		}

		if err := e.kv.AddToSet(ctx, residencySet(child.TileID, child.Residency), childID); err != nil {
			e.log.Warn("index newborn residency", "person", childID, "error", err)
		}
		if age := mother.Age(now); age <= e.cfg.FertilityCeiling {
			if err := e.kv.AddToSet(ctx, setPregnancyEligible, familyID); err != nil {
				e.log.Warn("reindex family for pregnancy", "family", familyID, "error", err)
			}
		}

		e.appendEvent(ctx, domain.EventBirth, &childID, &familyID)
		e.log.Info("baby delivered", "family", familyID, "person", childID, "sex", sex)
		born = &child
		return nil
	})
	if err != nil {
		return nil, err
	}
	return born, nil
}

// dissolveFamily removes a family record after a spouse's death. The
// caller holds the family lock. The survivor re-enters the matchmaking
// pool when old enough; children keep their MotherID link but are
// otherwise unaffected.
func (e *Engine) dissolveFamily(ctx context.Context, fam domain.Family, deceasedID int64) error {
	survivorID := fam.HusbandID
	if deceasedID == fam.HusbandID {
		survivorID = fam.WifeID
	}

	if err := e.kv.DeleteRecord(ctx, mapFamilies, fam.ID); err != nil {
		return fmt.Errorf("delete family %d: %w", fam.ID, err)
	}
	if err := e.kv.RemoveFromSet(ctx, setPregnancyEligible, fam.ID); err != nil {
		e.log.Warn("unindex dissolved family", "family", fam.ID, "error", err)
	}

	survivor, err := e.person(ctx, survivorID)
	if err != nil {
		if notFound(err) {
			e.appendEvent(ctx, domain.EventDissolution, nil, &fam.ID)
			return nil
		}
		return err
	}
	survivor.FamilyID = nil
	if err := e.putPerson(ctx, survivor); err != nil {
		return err
	}
	if survivor.Age(e.cal.CurrentDate()) >= e.cfg.MarriageAge {
		e.addEligible(ctx, survivor)
	}

	e.appendEvent(ctx, domain.EventDissolution, nil, &fam.ID)
	e.log.Info("family dissolved", "family", fam.ID, "deceased", deceasedID, "survivor", survivorID)
	return nil
}

// addEligible places an unpartnered adult back in the matchmaking pool.
func (e *Engine) addEligible(ctx context.Context, p domain.Person) {
	if err := e.kv.AddToSet(ctx, eligibleSet(p.TileID, p.Sex), p.ID); err != nil {
		e.log.Warn("index eligible person", "person", p.ID, "error", err)
	}
}

// removeEligible drops a person from the matchmaking pool.
func (e *Engine) removeEligible(ctx context.Context, p domain.Person) {
	if err := e.kv.RemoveFromSet(ctx, eligibleSet(p.TileID, p.Sex), p.ID); err != nil {
		e.log.Warn("unindex eligible person", "person", p.ID, "error", err)
	}
}

// maybeStartPregnancy rolls the pregnancy chance for a fresh family and
// starts one on success. Used by matchmaking and seeding.
func (e *Engine) maybeStartPregnancy(ctx context.Context, familyID int64) {
	if rand.Float64() >= e.cfg.PregnancyChance {
		return
	}
	if _, err := e.StartPregnancy(ctx, familyID); err != nil && !domain.IsIneligible(err) {
		e.log.Warn("start pregnancy after match", "family", familyID, "error", err)
	}
}
