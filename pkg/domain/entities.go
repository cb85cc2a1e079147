// Package domain defines the core persistent entities, the entity-store and
// lock contracts, and the consistency rule primitives used by villagecore.
package domain

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in store buckets and error values.
const (
	// EntityPerson identifies an individual person record.
	EntityPerson EntityType = "person"
	// EntityFamily identifies a family (couple) record.
	EntityFamily EntityType = "family"
)

// Sex is the recorded sex of a person.
type Sex string

// Canonical sexes used by matchmaking and fertility checks.
const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// Person is an individual member of the simulated population. The id is
// allocated from a store-backed sequence and is unique process-wide.
type Person struct {
	ID          int64   `json:"id"`
	TileID      int64   `json:"tile_id"`
	Residency   int     `json:"residency"`
	Sex         Sex     `json:"sex"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth SimDate `json:"date_of_birth"`
	Health      int     `json:"health"`
	FamilyID    *int64  `json:"family_id,omitempty"`
	MotherID    *int64  `json:"mother_id,omitempty"`
}

// Age returns the person's age in whole years at the given date.
func (p Person) Age(at SimDate) int {
	return p.DateOfBirth.YearsSince(at)
}

// Partnered reports whether the person currently belongs to a family as a
// spouse. Children are linked through Family.ChildrenIDs and MotherID only,
// so a child's FamilyID stays nil until they marry.
func (p Person) Partnered() bool {
	return p.FamilyID != nil
}

// Family is a tracked couple with pregnancy state and children. At most one
// family exists per (husband, wife) pair; the creation protocol enforces
// this, not a storage constraint. Pregnancy is true iff DeliveryDate is a
// non-nil future-or-today date at the moment of the last write.
type Family struct {
	ID           int64    `json:"id"`
	HusbandID    int64    `json:"husband_id"`
	WifeID       int64    `json:"wife_id"`
	TileID       int64    `json:"tile_id"`
	Pregnancy    bool     `json:"pregnancy"`
	DeliveryDate *SimDate `json:"delivery_date,omitempty"`
	LastDelivery *SimDate `json:"last_delivery,omitempty"`
	ChildrenIDs  []int64  `json:"children_ids"`
}

// DueBy reports whether the family is pregnant with a delivery date on or
// before the given day.
func (f Family) DueBy(date SimDate) bool {
	return f.Pregnancy && f.DeliveryDate != nil && !f.DeliveryDate.After(date)
}

// HasChild reports whether the given person id is recorded as a child.
func (f Family) HasChild(id int64) bool {
	for _, c := range f.ChildrenIDs {
		if c == id {
			return true
		}
	}
	return false
}

// EventType classifies a lifecycle event.
type EventType string

// Lifecycle event categories recorded by the engine.
const (
	EventBirth            EventType = "birth"
	EventDeath            EventType = "death"
	EventMarriage         EventType = "marriage"
	EventPregnancyStarted EventType = "pregnancy_started"
	EventDissolution      EventType = "dissolution"
)

// Event is a calendar-stamped lifecycle occurrence.
type Event struct {
	ID       int64     `json:"id"`
	Type     EventType `json:"type"`
	Date     SimDate   `json:"date"`
	PersonID *int64    `json:"person_id,omitempty"`
	FamilyID *int64    `json:"family_id,omitempty"`
}

// VitalStatistics aggregates lifecycle events over a year range.
type VitalStatistics struct {
	StartYear    int `json:"start_year"`
	EndYear      int `json:"end_year"`
	Births       int `json:"births"`
	Deaths       int `json:"deaths"`
	Marriages    int `json:"marriages"`
	Pregnancies  int `json:"pregnancies"`
	Dissolutions int `json:"dissolutions"`
}

// Demographics is a point-in-time population breakdown.
type Demographics struct {
	Population int `json:"population"`
	Males      int `json:"males"`
	Females    int `json:"females"`
	Minors     int `json:"minors"`
	Adults     int `json:"adults"`
	Elders     int `json:"elders"`
}
