package core

import (
	"fmt"

	"villagecore/pkg/domain"
)

// Store key namespace. Records live in hash maps, indexes in sets, and the
// delivery retry ledger in a schedule plus an attempt counter, all under
// the single entity store.
const (
	mapPeople   = "people"
	mapFamilies = "families"
	mapEvents   = "events"

	seqPerson = "seq:person"
	seqFamily = "seq:family"
	seqEvent  = "seq:event"

	setTiles = "tiles:active"

	setPregnancyEligible = "eligible:pregnancy"

	ledgerDeliveries        = "retry:deliveries"
	counterDeliveryAttempts = "retry:deliveries:attempts"
	setDeliveryDead         = "retry:deliveries:dead"
)

// residencySet names the membership index for one (tile, residency) slot.
func residencySet(tileID int64, residency int) string {
	return fmt.Sprintf("tile:%d:residency:%d", tileID, residency)
}

// eligibleSet names the matchmaking pool for a tile and sex.
func eligibleSet(tileID int64, sex domain.Sex) string {
	return fmt.Sprintf("eligible:%ss:tile:%d", sex, tileID)
}

// familyLockName serializes all mutating operations on one family.
func familyLockName(familyID int64) string {
	return fmt.Sprintf("family:%d", familyID)
}

// pairLockName derives a deterministic lock name from the unordered
// (husband, wife) pair, so concurrent createFamily calls for the same pair
// contend on a single lock regardless of argument order.
func pairLockName(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%d:%d", a, b)
}
