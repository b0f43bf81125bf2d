// Package risk enforces the daily loss limit and the trading state
// machine that governs whether new orders may be placed.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantdesk/trading-engine/internal/dispatch"
	"github.com/quantdesk/trading-engine/internal/metrics"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Limits configures the daily loss governor.
type Limits struct {
	// DailyLossLimitPct is the maximum tolerated daily loss as a
	// fraction of the day's starting equity, e.g. 0.05 for 5%.
	DailyLossLimitPct decimal.Decimal
	// RecoveryDelay is the minimum suspension duration before an
	// automatic resume is considered.
	RecoveryDelay time.Duration
	// AutoSuspend controls whether a breach suspends trading or is
	// only recorded.
	AutoSuspend bool
}

// DefaultLimits returns the stock configuration: 5% daily loss limit,
// 24 hour recovery delay, auto-suspend on.
func DefaultLimits() Limits {
	return Limits{
		DailyLossLimitPct: decimal.NewFromFloat(0.05),
		RecoveryDelay:     24 * time.Hour,
		AutoSuspend:       true,
	}
}

// Suspension describes one loss-limit trip.
type Suspension struct {
	Date      string          `json:"date"`
	Reason    string          `json:"reason"`
	LossPct   decimal.Decimal `json:"loss_pct"`
	Timestamp time.Time       `json:"timestamp"`
}

// SuspensionFunc is notified when trading is suspended. Callbacks run
// concurrently with panic isolation; a broken subscriber cannot block
// the state transition.
type SuspensionFunc func(s Suspension)

// AlertLevel grades monitor notifications.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// AlertFunc receives risk alerts. Same delivery guarantees as
// SuspensionFunc.
type AlertFunc func(level AlertLevel, message string, data map[string]any)

// Stats summarizes the monitor's day history.
type Stats struct {
	DaysTracked    int                `json:"days_tracked"`
	WinDays        int                `json:"win_days"`
	LossDays       int                `json:"loss_days"`
	AvgDailyReturn decimal.Decimal    `json:"avg_daily_return"`
	State          types.TradingState `json:"state"`
}

// Monitor tracks intraday P&L against the daily loss limit and owns
// the trading state machine (ACTIVE, SUSPENDED, EMERGENCY_STOP,
// MAINTENANCE). Days roll over at the UTC date boundary. Time is read
// through an injected clock so recovery rules are testable.
type Monitor struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	limits     Limits
	clock      func() time.Time
	dispatcher *dispatch.Dispatcher

	state            types.TradingState
	current          *types.DailyPnL
	history          map[string]types.DailyPnL
	subscribers      []SuspensionFunc
	alertSubs        []AlertFunc
	warnedDate       string
	suspendedAt      time.Time
	suspensionDate   string
	suspensionReason string
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// NewMonitor creates a monitor in the ACTIVE state.
func NewMonitor(logger *zap.Logger, limits Limits, opts ...Option) *Monitor {
	if limits.RecoveryDelay <= 0 {
		limits.RecoveryDelay = 24 * time.Hour
	}
	m := &Monitor{
		logger:     logger.Named("risk"),
		limits:     limits,
		clock:      time.Now,
		dispatcher: dispatch.NewDispatcher(logger, 5*time.Second),
		state:      types.StateActive,
		history:    make(map[string]types.DailyPnL),
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.TradingAllowed.Set(1)
	return m
}

// OnSuspension registers a callback for loss-limit suspensions.
func (m *Monitor) OnSuspension(fn SuspensionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// OnAlert registers a callback for graded risk alerts.
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertSubs = append(m.alertSubs, fn)
}

func dateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TrackDailyPnL records an equity sample together with the day's
// cumulative realized and unrealized P&L. The first call of a UTC day
// opens a fresh record with that equity as the baseline; a later call
// on a new date finalizes the previous day into history first. A
// breach of the daily loss limit while ACTIVE suspends trading exactly
// once per day.
func (m *Monitor) TrackDailyPnL(equity, realizedPnL, unrealizedPnL decimal.Decimal) {
	m.mu.Lock()

	now := m.clock()
	today := dateOf(now)

	if m.current != nil && m.current.Date != today {
		m.finalizeLocked()
	}
	if m.current == nil {
		m.current = &types.DailyPnL{
			Date:           today,
			StartingEquity: equity,
			CurrentEquity:  equity,
			MaxEquity:      equity,
		}
	}

	day := m.current
	day.CurrentEquity = equity
	day.RealizedPnL = realizedPnL
	day.UnrealizedPnL = unrealizedPnL
	if equity.GreaterThan(day.MaxEquity) {
		day.MaxEquity = equity
	}
	if day.MaxEquity.GreaterThan(decimal.Zero) {
		dd := day.MaxEquity.Sub(equity).Div(day.MaxEquity).Mul(decimal.NewFromInt(100))
		if dd.GreaterThan(day.MaxDrawdownPct) {
			day.MaxDrawdownPct = dd
		}
	}

	var fns []func()
	lossPct := day.TotalPnLPct()
	limit := m.limits.DailyLossLimitPct.Neg()
	warnAt := m.limits.DailyLossLimitPct.Mul(decimal.NewFromFloat(0.8)).Neg()

	switch {
	case m.limits.AutoSuspend && m.state == types.StateActive && lossPct.LessThanOrEqual(limit):
		trip := m.suspendLocked(fmt.Sprintf("daily loss %s%% breached limit %s%%",
			lossPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
			m.limits.DailyLossLimitPct.Mul(decimal.NewFromInt(100)).StringFixed(2)), lossPct, now)
		fns = append(fns, m.suspensionFnsLocked(trip)...)
		fns = append(fns, m.alertFnsLocked(AlertCritical, trip.Reason, map[string]any{
			"date":     trip.Date,
			"loss_pct": trip.LossPct.String(),
		})...)

	case m.state == types.StateActive && m.warnedDate != today && lossPct.LessThanOrEqual(warnAt):
		m.warnedDate = today
		fns = append(fns, m.alertFnsLocked(AlertWarning,
			fmt.Sprintf("daily loss %s%% approaching limit %s%%",
				lossPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
				m.limits.DailyLossLimitPct.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			map[string]any{"date": today, "loss_pct": lossPct.String()})...)
	}
	m.mu.Unlock()

	// Fan out after releasing the lock so subscribers may read back
	// monitor state without deadlocking.
	if len(fns) > 0 {
		m.dispatcher.Dispatch(fns)
	}
}

// suspendLocked transitions ACTIVE to SUSPENDED. Caller holds the lock.
func (m *Monitor) suspendLocked(reason string, lossPct decimal.Decimal, now time.Time) *Suspension {
	m.state = types.StateSuspended
	m.suspendedAt = now
	m.suspensionDate = dateOf(now)
	m.suspensionReason = reason

	metrics.Suspensions.WithLabelValues("daily_loss").Inc()
	metrics.TradingAllowed.Set(0)
	m.logger.Warn("trading suspended", zap.String("reason", reason))

	return &Suspension{
		Date:      m.suspensionDate,
		Reason:    reason,
		LossPct:   lossPct,
		Timestamp: now,
	}
}

func (m *Monitor) suspensionFnsLocked(trip *Suspension) []func() {
	fns := make([]func(), len(m.subscribers))
	for i, fn := range m.subscribers {
		fn := fn
		fns[i] = func() { fn(*trip) }
	}
	return fns
}

func (m *Monitor) alertFnsLocked(level AlertLevel, message string, data map[string]any) []func() {
	fns := make([]func(), len(m.alertSubs))
	for i, fn := range m.alertSubs {
		fn := fn
		fns[i] = func() { fn(level, message, data) }
	}
	return fns
}

// finalizeLocked moves the open day into history. Caller holds the lock.
func (m *Monitor) finalizeLocked() {
	if m.current == nil {
		return
	}
	m.history[m.current.Date] = *m.current
	m.logger.Info("daily pnl finalized",
		zap.String("date", m.current.Date),
		zap.String("total_pnl", m.current.TotalPnL().String()),
		zap.Int("trades", m.current.TradeCount))
	m.current = nil
}

// RecordTrade counts one closed trade against the open day: trade and
// win/loss counters plus the largest single win and loss. Cumulative
// realized P&L comes through TrackDailyPnL, not from here. Calls
// before the first equity observation of a day are ignored.
func (m *Monitor) RecordTrade(realizedPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	day := m.current
	day.TradeCount++
	switch realizedPnL.Sign() {
	case 1:
		day.WinCount++
		if realizedPnL.GreaterThan(day.LargestWin) {
			day.LargestWin = realizedPnL
		}
	case -1:
		day.LossCount++
		if realizedPnL.LessThan(day.LargestLoss) {
			day.LargestLoss = realizedPnL
		}
	}
}

// CanResumeTrading reports whether an automatic resume would be
// permitted right now, with the blocking reason when it would not.
func (m *Monitor) CanResumeTrading() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canResumeLocked()
}

func (m *Monitor) canResumeLocked() (bool, string) {
	switch m.state {
	case types.StateActive:
		return false, "trading is already active"
	case types.StateMaintenance:
		return true, ""
	case types.StateEmergencyStop:
		return false, "emergency stop requires manual override"
	}

	now := m.clock()
	elapsed := now.Sub(m.suspendedAt)
	if elapsed < m.limits.RecoveryDelay {
		return false, fmt.Sprintf("recovery delay not met: %s of %s elapsed",
			elapsed.Round(time.Minute), m.limits.RecoveryDelay)
	}
	if dateOf(now) == m.suspensionDate {
		return false, "cannot resume on the calendar day of the suspension"
	}
	return true, ""
}

// ResumeTrading attempts to return to ACTIVE. A suspended monitor
// resumes only after the recovery delay has elapsed on a later
// calendar day; manualOverride bypasses both checks. An emergency
// stop resumes only with manualOverride.
func (m *Monitor) ResumeTrading(manualOverride bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == types.StateActive {
		return fmt.Errorf("trading is already active")
	}
	if !manualOverride {
		if ok, reason := m.canResumeLocked(); !ok {
			return fmt.Errorf("cannot resume: %s", reason)
		}
	}

	m.logger.Info("trading resumed",
		zap.String("from", string(m.state)),
		zap.Bool("manual_override", manualOverride))
	m.state = types.StateActive
	m.suspendedAt = time.Time{}
	m.suspensionDate = ""
	m.suspensionReason = ""
	metrics.TradingAllowed.Set(1)
	return nil
}

// EmergencyStop halts trading unconditionally. The state never
// auto-resolves; only ResumeTrading with manualOverride leaves it.
func (m *Monitor) EmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = types.StateEmergencyStop
	m.suspendedAt = m.clock()
	m.suspensionDate = dateOf(m.suspendedAt)
	m.suspensionReason = reason
	metrics.Suspensions.WithLabelValues("emergency_stop").Inc()
	metrics.TradingAllowed.Set(0)
	m.logger.Error("emergency stop", zap.String("reason", reason))
}

// SetMaintenance toggles the maintenance state. Entering maintenance
// is allowed from ACTIVE or SUSPENDED but never downgrades an
// emergency stop; leaving it returns to ACTIVE.
func (m *Monitor) SetMaintenance(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if on {
		if m.state == types.StateEmergencyStop {
			return
		}
		m.state = types.StateMaintenance
		metrics.TradingAllowed.Set(0)
		m.logger.Info("maintenance mode enabled")
		return
	}
	if m.state != types.StateMaintenance {
		return
	}
	m.state = types.StateActive
	metrics.TradingAllowed.Set(1)
	m.logger.Info("maintenance mode disabled")
}

// TradingState returns the current state.
func (m *Monitor) TradingState() types.TradingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsTradingAllowed reports whether new orders may be placed.
func (m *Monitor) IsTradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == types.StateActive
}

// SuspensionReason returns the reason for the current halt, if any.
func (m *Monitor) SuspensionReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspensionReason
}

// CurrentPnL returns a copy of the open day's record, or nil before
// the first equity observation.
func (m *Monitor) CurrentPnL() *types.DailyPnL {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// History returns copies of all finalized days keyed by date.
func (m *Monitor) History() map[string]types.DailyPnL {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.DailyPnL, len(m.history))
	for k, v := range m.history {
		out[k] = v
	}
	return out
}

// Stats summarizes finalized days.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{DaysTracked: len(m.history), State: m.state}
	if len(m.history) == 0 {
		return s
	}
	sum := decimal.Zero
	for _, day := range m.history {
		switch day.TotalPnL().Sign() {
		case 1:
			s.WinDays++
		case -1:
			s.LossDays++
		}
		sum = sum.Add(day.TotalPnLPct())
	}
	s.AvgDailyReturn = sum.Div(decimal.NewFromInt(int64(len(m.history))))
	return s
}
