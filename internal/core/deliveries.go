package core

import (
	"context"
	"fmt"

	"villagecore/pkg/domain"
)

// DeliveryReport summarizes one delivery sweep.
type DeliveryReport struct {
	Delivered    int `json:"delivered"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// ProcessDeliveries runs one delivery sweep: due retries first, then a
// scan of the family map for pregnancies whose delivery date has arrived.
// A contended family is rescheduled through the retry ledger rather than
// blocked on; after the attempt cap it moves to the dead-letter set. limit
// bounds how many families one sweep touches (non-positive means no
// bound). The sweep skips entirely when the store is not ready.
func (e *Engine) ProcessDeliveries(ctx context.Context, limit int) (DeliveryReport, error) {
	var report DeliveryReport
	err := e.observe(ctx, "process_deliveries", func() error {
		if err := e.waitReady(ctx); err != nil {
			e.log.Warn("delivery sweep skipped", "error", err)
			return err
		}
		queue := NewRetryQueue(e.kv, e.cfg.MaxRetryAttempts)

		// Dead-lettered families stay parked until redeemed, no matter
		// how due they look.
		deadKeys, err := queue.DeadLetters(ctx)
		if err != nil {
			return err
		}
		dead := make(map[int64]bool, len(deadKeys))
		for _, id := range deadKeys {
			dead[id] = true
		}

		due, err := queue.Due(ctx)
		if err != nil {
			return err
		}
		candidates := make([]int64, 0, len(due))
		for _, id := range due {
			if !dead[id] {
				candidates = append(candidates, id)
			}
		}

		families, err := e.allFamilies(ctx)
		if err != nil {
			return err
		}
		now := e.cal.CurrentDate()
		for _, fam := range families {
			if !fam.DueBy(now) || dead[fam.ID] {
				continue
			}
			// Families already in the retry ledger were collected above;
			// a positive attempt count is the marker.
			attempts, err := queue.Attempts(ctx, fam.ID)
			if err != nil {
				return fmt.Errorf("check attempts for family %d: %w", fam.ID, err)
			}
			if attempts > 0 {
				continue
			}
			candidates = append(candidates, fam.ID)
		}

		for _, familyID := range candidates {
			if limit > 0 && report.Delivered+report.Retried+report.DeadLettered >= limit {
				break
			}
			child, err := e.DeliverBaby(ctx, familyID)
			if err != nil {
				return fmt.Errorf("deliver for family %d: %w", familyID, err)
			}
			if child != nil {
				if err := queue.Ack(ctx, familyID); err != nil {
					e.log.Warn("ack delivery retry", "family", familyID, "error", err)
				}
				report.Delivered++
				continue
			}
			// Nil child with nil error is either lock contention or a
			// family no longer due. Reload to tell them apart.
			fam, err := e.family(ctx, familyID)
			if err != nil || !fam.DueBy(e.cal.CurrentDate()) {
				if err != nil && !notFound(err) {
					return err
				}
				if err := queue.Ack(ctx, familyID); err != nil {
					e.log.Warn("ack stale delivery retry", "family", familyID, "error", err)
				}
				continue
			}
			attempts, err := queue.Schedule(ctx, familyID, e.cfg.RetryDelay)
			if err != nil {
				return err
			}
			if queue.Exhausted(attempts) {
				if err := queue.DeadLetter(ctx, familyID); err != nil {
					return err
				}
				report.DeadLettered++
				e.log.Error("delivery dead-lettered", "family", familyID, "attempts", attempts)
				continue
			}
			report.Retried++
			e.log.Info("delivery rescheduled", "family", familyID, "attempts", attempts)
		}

		if report.Delivered > 0 {
			if err := e.broadcast.BroadcastUpdate(ctx, string(domain.EventBirth)); err != nil {
				e.log.Warn("broadcast births", "error", err)
			}
		}
		return nil
	})
	return report, err
}

// DeadLetteredDeliveries lists families parked in the dead-letter set.
func (e *Engine) DeadLetteredDeliveries(ctx context.Context) ([]int64, error) {
	return NewRetryQueue(e.kv, e.cfg.MaxRetryAttempts).DeadLetters(ctx)
}

// RedeemDelivery returns a dead-lettered family to the retry schedule.
func (e *Engine) RedeemDelivery(ctx context.Context, familyID int64) error {
	return NewRetryQueue(e.kv, e.cfg.MaxRetryAttempts).Redeem(ctx, familyID, e.cfg.RetryDelay)
}
