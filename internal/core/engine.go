// Package core implements the population lifecycle engine: family
// formation, pregnancy and delivery, senescence, matchmaking, integrity
// verification, and bulk seeding, all over the entity store and the
// distributed lock.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"villagecore/pkg/domain"
)

// Engine coordinates all lifecycle mutations. Cross-process safety comes
// from the store's single-key atomicity plus the lock-then-recheck
// protocol; the engine itself carries no mutable state beyond its wiring.
type Engine struct {
	kv        domain.KVStore
	locks     domain.Locker
	cal       domain.Calendar
	cfg       Config
	log       *slog.Logger
	metrics   MetricsRecorder
	broadcast Broadcaster
	rules     *domain.RulesEngine
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

// WithBroadcaster sets the post-batch notification sink.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) {
		if b != nil {
			e.broadcast = b
		}
	}
}

// WithConfig overrides the lifecycle policy knobs. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.withDefaults()
	}
}

// New constructs a lifecycle engine over the given store, lock provider,
// and calendar.
func New(kv domain.KVStore, locks domain.Locker, cal domain.Calendar, opts ...Option) *Engine {
	e := &Engine{
		kv:        kv,
		locks:     locks,
		cal:       cal,
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		metrics:   NoopMetricsRecorder{},
		broadcast: NoopBroadcaster{},
		rules:     domain.NewRulesEngine(),
	}
	for _, rule := range defaultRules() {
		e.rules.Register(rule)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective lifecycle configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// CurrentDate returns the calendar's current simulated date.
func (e *Engine) CurrentDate() domain.SimDate {
	return e.cal.CurrentDate()
}

// observe times op, runs fn, and records the outcome.
func (e *Engine) observe(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	e.metrics.Observe(ctx, op, err == nil, time.Since(start))
	return err
}

// waitReady polls the store's readiness probe for up to cfg.ReadyWait. It
// returns ErrStoreUnavailable when the store never comes up, so scheduled
// passes skip instead of hanging.
func (e *Engine) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.ReadyWait)
	for {
		err := e.kv.Ready(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("store not ready after %s: %w", e.cfg.ReadyWait, domain.ErrStoreUnavailable)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// person loads one person record.
func (e *Engine) person(ctx context.Context, id int64) (domain.Person, error) {
	payload, ok, err := e.kv.GetRecord(ctx, mapPeople, id)
	if err != nil {
		return domain.Person{}, fmt.Errorf("load person %d: %w", id, err)
	}
	if !ok {
		return domain.Person{}, domain.ErrNotFound{Entity: domain.EntityPerson, ID: id}
	}
	var p domain.Person
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Person{}, fmt.Errorf("decode person %d: %w", id, err)
	}
	return p, nil
}

// putPerson writes one person record.
func (e *Engine) putPerson(ctx context.Context, p domain.Person) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode person %d: %w", p.ID, err)
	}
	if err := e.kv.SetRecord(ctx, mapPeople, p.ID, payload); err != nil {
		return fmt.Errorf("store person %d: %w", p.ID, err)
	}
	return nil
}

// family loads one family record.
func (e *Engine) family(ctx context.Context, id int64) (domain.Family, error) {
	payload, ok, err := e.kv.GetRecord(ctx, mapFamilies, id)
	if err != nil {
		return domain.Family{}, fmt.Errorf("load family %d: %w", id, err)
	}
	if !ok {
		return domain.Family{}, domain.ErrNotFound{Entity: domain.EntityFamily, ID: id}
	}
	var f domain.Family
	if err := json.Unmarshal(payload, &f); err != nil {
		return domain.Family{}, fmt.Errorf("decode family %d: %w", id, err)
	}
	return f, nil
}

// putFamily writes one family record.
func (e *Engine) putFamily(ctx context.Context, f domain.Family) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode family %d: %w", f.ID, err)
	}
	if err := e.kv.SetRecord(ctx, mapFamilies, f.ID, payload); err != nil {
		return fmt.Errorf("store family %d: %w", f.ID, err)
	}
	return nil
}

// allPersons loads every person record, sorted by id.
func (e *Engine) allPersons(ctx context.Context) ([]domain.Person, error) {
	records, err := e.kv.AllRecords(ctx, mapPeople)
	if err != nil {
		return nil, fmt.Errorf("scan people: %w", err)
	}
	persons := make([]domain.Person, 0, len(records))
	for id, payload := range records {
		var p domain.Person
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode person %d: %w", id, err)
		}
		persons = append(persons, p)
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	return persons, nil
}

// allFamilies loads every family record, sorted by id.
func (e *Engine) allFamilies(ctx context.Context) ([]domain.Family, error) {
	records, err := e.kv.AllRecords(ctx, mapFamilies)
	if err != nil {
		return nil, fmt.Errorf("scan families: %w", err)
	}
	families := make([]domain.Family, 0, len(records))
	for id, payload := range records {
		var f domain.Family
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, fmt.Errorf("decode family %d: %w", id, err)
		}
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].ID < families[j].ID })
	return families, nil
}

// Person returns one person record.
func (e *Engine) Person(ctx context.Context, id int64) (domain.Person, error) {
	return e.person(ctx, id)
}

// Family returns one family record.
func (e *Engine) Family(ctx context.Context, id int64) (domain.Family, error) {
	return e.family(ctx, id)
}

// Persons returns every person record, sorted by id.
func (e *Engine) Persons(ctx context.Context) ([]domain.Person, error) {
	return e.allPersons(ctx)
}

// Families returns every family record, sorted by id.
func (e *Engine) Families(ctx context.Context) ([]domain.Family, error) {
	return e.allFamilies(ctx)
}

// appendEvent records a lifecycle event under a fresh sequence id. Event
// recording is best effort; a failed append is logged and never fails the
// mutation that produced it.
func (e *Engine) appendEvent(ctx context.Context, typ domain.EventType, personID, familyID *int64) {
	id, err := e.kv.NextID(ctx, seqEvent)
	if err != nil {
		e.log.Warn("allocate event id", "type", typ, "error", err)
		return
	}
	ev := domain.Event{
		ID:       id,
		Type:     typ,
		Date:     e.cal.CurrentDate(),
		PersonID: personID,
		FamilyID: familyID,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("encode event", "type", typ, "error", err)
		return
	}
	if err := e.kv.SetRecord(ctx, mapEvents, id, payload); err != nil {
		e.log.Warn("store event", "type", typ, "error", err)
	}
}

// RecentEvents returns up to limit events in descending id order (newest
// first). A non-positive limit returns everything.
func (e *Engine) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	records, err := e.kv.AllRecords(ctx, mapEvents)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	events := make([]domain.Event, 0, len(records))
	for id, payload := range records {
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// VitalStatistics aggregates lifecycle events over the inclusive year
// range [startYear, endYear].
func (e *Engine) VitalStatistics(ctx context.Context, startYear, endYear int) (domain.VitalStatistics, error) {
	events, err := e.RecentEvents(ctx, 0)
	if err != nil {
		return domain.VitalStatistics{}, err
	}
	stats := domain.VitalStatistics{StartYear: startYear, EndYear: endYear}
	for _, ev := range events {
		if ev.Date.Year < startYear || ev.Date.Year > endYear {
			continue
		}
		switch ev.Type {
		case domain.EventBirth:
			stats.Births++
		case domain.EventDeath:
			stats.Deaths++
		case domain.EventMarriage:
			stats.Marriages++
		case domain.EventPregnancyStarted:
			stats.Pregnancies++
		case domain.EventDissolution:
			stats.Dissolutions++
		}
	}
	return stats, nil
}

// Demographics returns the current population breakdown. Minors are under
// the marriage age, elders sixty and over.
func (e *Engine) Demographics(ctx context.Context) (domain.Demographics, error) {
	persons, err := e.allPersons(ctx)
	if err != nil {
		return domain.Demographics{}, err
	}
	now := e.cal.CurrentDate()
	var demo domain.Demographics
	demo.Population = len(persons)
	for _, p := range persons {
		if p.Sex == domain.SexMale {
			demo.Males++
		} else {
			demo.Females++
		}
		switch age := p.Age(now); {
		case age < e.cfg.MarriageAge:
			demo.Minors++
		case age >= 60:
			demo.Elders++
		default:
			demo.Adults++
		}
	}
	return demo, nil
}

// RestoreWorld loads a full set of records in two passes: the first
// writes every record and advances the id sequences past the imported
// ids, the second runs the integrity verifier to rebuild the membership
// indexes from the records.
func (e *Engine) RestoreWorld(ctx context.Context, persons []domain.Person, families []domain.Family, events []domain.Event) error {
	var maxPerson, maxFamily, maxEvent int64
	for _, p := range persons {
		if err := e.putPerson(ctx, p); err != nil {
			return err
		}
		if p.ID > maxPerson {
			maxPerson = p.ID
		}
	}
	for _, f := range families {
		if err := e.putFamily(ctx, f); err != nil {
			return err
		}
		if f.ID > maxFamily {
			maxFamily = f.ID
		}
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
		if err := e.kv.SetRecord(ctx, mapEvents, ev.ID, payload); err != nil {
			return fmt.Errorf("store event %d: %w", ev.ID, err)
		}
		if ev.ID > maxEvent {
			maxEvent = ev.ID
		}
	}
	if err := e.kv.SetSequence(ctx, seqPerson, maxPerson); err != nil {
		return fmt.Errorf("advance person sequence: %w", err)
	}
	if err := e.kv.SetSequence(ctx, seqFamily, maxFamily); err != nil {
		return fmt.Errorf("advance family sequence: %w", err)
	}
	if err := e.kv.SetSequence(ctx, seqEvent, maxEvent); err != nil {
		return fmt.Errorf("advance event sequence: %w", err)
	}
	if _, err := e.VerifyAndRepair(ctx, false); err != nil {
		return fmt.Errorf("rebuild indexes: %w", err)
	}
	return nil
}

// DailyPass runs one simulated day: deliveries come first so babies due
// today are born before mortality rolls, then matchmaking, then
// senescence. Store unavailability skips the whole day; any other error
// aborts it.
func (e *Engine) DailyPass(ctx context.Context) error {
	if err := e.waitReady(ctx); err != nil {
		e.log.Warn("daily pass skipped", "date", e.cal.CurrentDate(), "error", err)
		return err
	}
	if _, err := e.ProcessDeliveries(ctx, 0); err != nil {
		return fmt.Errorf("deliveries: %w", err)
	}
	if _, err := e.FormNewFamilies(ctx); err != nil {
		return fmt.Errorf("matchmaking: %w", err)
	}
	if _, err := e.ApplySenescence(ctx); err != nil {
		return fmt.Errorf("senescence: %w", err)
	}
	return nil
}

// notFound reports whether err is a missing-record error.
func notFound(err error) bool {
	var nf domain.ErrNotFound
	return errors.As(err, &nf)
}
