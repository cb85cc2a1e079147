package core

import "time"

// Config carries the lifecycle policy knobs. Zero values are replaced by
// the defaults below.
type Config struct {
	// MarriageAge is the minimum age for matchmaking, in years.
	MarriageAge int
	// MaxAgeDiff is the widest acceptable spousal age gap, in years.
	MaxAgeDiff int
	// FertilityFloor and FertilityCeiling bound the wife's age for a new
	// pregnancy, inclusive.
	FertilityFloor   int
	FertilityCeiling int
	// GestationMonths is the distance from conception to delivery date.
	GestationMonths int
	// BirthIntervalMonths is the minimum spacing between deliveries.
	BirthIntervalMonths int
	// PregnancyChance is the probability that a freshly formed family
	// immediately starts a pregnancy.
	PregnancyChance float64
	// MortalityCeiling is the age at which death becomes certain.
	MortalityCeiling int
	// ResidenciesPerTile is how many residency membership sets partition
	// each tile's population.
	ResidenciesPerTile int

	// LockTTL bounds worst-case staleness of a crashed lock holder.
	LockTTL time.Duration
	// RetryDelay is how far in the future a contended delivery is
	// rescheduled.
	RetryDelay time.Duration
	// MaxRetryAttempts is how many times a contended delivery is retried
	// before moving to the dead-letter set.
	MaxRetryAttempts int
	// ReadyWait bounds how long a lifecycle pass waits for the store to
	// come up before skipping.
	ReadyWait time.Duration
}

// DefaultConfig returns the standard lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		MarriageAge:         16,
		MaxAgeDiff:          15,
		FertilityFloor:      16,
		FertilityCeiling:    33,
		GestationMonths:     9,
		BirthIntervalMonths: 18,
		PregnancyChance:     0.5,
		MortalityCeiling:    105,
		ResidenciesPerTile:  4,
		LockTTL:             5 * time.Second,
		RetryDelay:          30 * time.Second,
		MaxRetryAttempts:    5,
		ReadyWait:           3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MarriageAge == 0 {
		c.MarriageAge = def.MarriageAge
	}
	if c.MaxAgeDiff == 0 {
		c.MaxAgeDiff = def.MaxAgeDiff
	}
	if c.FertilityFloor == 0 {
		c.FertilityFloor = def.FertilityFloor
	}
	if c.FertilityCeiling == 0 {
		c.FertilityCeiling = def.FertilityCeiling
	}
	if c.GestationMonths == 0 {
		c.GestationMonths = def.GestationMonths
	}
	if c.BirthIntervalMonths == 0 {
		c.BirthIntervalMonths = def.BirthIntervalMonths
	}
	if c.PregnancyChance == 0 {
		c.PregnancyChance = def.PregnancyChance
	}
	if c.MortalityCeiling == 0 {
		c.MortalityCeiling = def.MortalityCeiling
	}
	if c.ResidenciesPerTile == 0 {
		c.ResidenciesPerTile = def.ResidenciesPerTile
	}
	if c.LockTTL == 0 {
		c.LockTTL = def.LockTTL
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if c.ReadyWait == 0 {
		c.ReadyWait = def.ReadyWait
	}
	return c
}
