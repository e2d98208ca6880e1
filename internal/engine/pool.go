package engine

import "time"

// CurrentResetPeriod returns the period key a pool with the given reset
// rule carries during the cycle containing now.
func CurrentResetPeriod(rule ResetRule, now time.Time, loc *time.Location) string {
	if rule == ResetWeekly {
		return WeekKey(now, loc)
	}
	return TaskDay(now, loc)
}

// NewPoolInstance materializes an account's instance of a pool template,
// filled to the maximum and stamped with the current reset period.
func NewPoolInstance(accountID string, tpl *PoolTemplate, now time.Time, loc *time.Location) *PoolInstance {
	return &PoolInstance{
		Key:             PoolKey{AccountID: accountID, Resource: tpl.Name},
		CurrentValue:    tpl.MaxValue,
		MaxValue:        tpl.MaxValue,
		Reset:           tpl.Reset,
		LastResetPeriod: CurrentResetPeriod(tpl.Reset, now, loc),
	}
}

// EnsureCurrent refills the instance if its last reset period is stale.
// The reset is pull-based: it happens on access, never in the background,
// so calling it twice within one period is a no-op the second time.
func (p *PoolInstance) EnsureCurrent(now time.Time, loc *time.Location) bool {
	current := CurrentResetPeriod(p.Reset, now, loc)
	if p.LastResetPeriod == current {
		return false
	}
	p.CurrentValue = p.MaxValue
	p.LastResetPeriod = current
	return true
}

// Consume subtracts delta from the balance. No floor is enforced; the
// balance may go negative when consumption exceeds it.
func (p *PoolInstance) Consume(delta int) {
	p.CurrentValue -= delta
}
