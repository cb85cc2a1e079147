package core

import (
	"context"
	"fmt"

	"villagecore/pkg/domain"
)

// storeView adapts loaded snapshots to the rule evaluation contract.
type storeView struct {
	persons  []domain.Person
	families []domain.Family
	date     domain.SimDate
}

var _ domain.RuleView = storeView{}

func (v storeView) ListPersons() []domain.Person  { return v.persons }
func (v storeView) ListFamilies() []domain.Family { return v.families }
func (v storeView) CurrentDate() domain.SimDate   { return v.date }

func (v storeView) FindPerson(id int64) (domain.Person, bool) {
	for _, p := range v.persons {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Person{}, false
}

func (v storeView) FindFamily(id int64) (domain.Family, bool) {
	for _, f := range v.families {
		if f.ID == id {
			return f, true
		}
	}
	return domain.Family{}, false
}

// defaultRules returns the consistency rules evaluated by every verifier
// pass.
func defaultRules() []domain.Rule {
	return []domain.Rule{
		pregnancyCoherenceRule{},
		spousalSymmetryRule{},
	}
}

// pregnancyCoherenceRule checks that the pregnancy flag and the delivery
// date move together: pregnant families carry a date, non-pregnant ones
// do not.
type pregnancyCoherenceRule struct{}

func (pregnancyCoherenceRule) Name() string { return "pregnancy_coherence" }

func (pregnancyCoherenceRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	var res domain.Result
	for _, fam := range view.ListFamilies() {
		switch {
		case fam.Pregnancy && fam.DeliveryDate == nil:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "pregnancy_coherence",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("family %d pregnant without a delivery date", fam.ID),
				Entity:   domain.EntityFamily,
				EntityID: fam.ID,
			})
		case !fam.Pregnancy && fam.DeliveryDate != nil:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "pregnancy_coherence",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("family %d carries a delivery date without a pregnancy", fam.ID),
				Entity:   domain.EntityFamily,
				EntityID: fam.ID,
			})
		}
	}
	return res, nil
}

// spousalSymmetryRule checks that each family's spouses exist and point
// back at the family. Broken symmetry blocks hard verification because it
// corrupts every lock-then-recheck decision made from the person record.
type spousalSymmetryRule struct{}

func (spousalSymmetryRule) Name() string { return "spousal_symmetry" }

func (spousalSymmetryRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	var res domain.Result
	for _, fam := range view.ListFamilies() {
		for _, spouseID := range []int64{fam.HusbandID, fam.WifeID} {
			spouse, ok := view.FindPerson(spouseID)
			if !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "spousal_symmetry",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("family %d references missing person %d", fam.ID, spouseID),
					Entity:   domain.EntityFamily,
					EntityID: fam.ID,
				})
				continue
			}
			if spouse.FamilyID == nil || *spouse.FamilyID != fam.ID {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "spousal_symmetry",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("person %d does not point back at family %d", spouseID, fam.ID),
					Entity:   domain.EntityPerson,
					EntityID: spouseID,
				})
			}
		}
	}
	return res, nil
}
