package simulation

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/configuration"
	"github.com/vladiki/Lean/internal/results/model"
)

const (
	symbol = "SPY"
	// Probability of placing an order at the end of a simulated day.
	tradeProbability = 0.25
	// The benchmark moves with this fraction of the strategy's volatility.
	benchmarkVolatilityRatio = 0.6
)

// Target receives the output of a simulation. It is satisfied by *dispatch.Dispatcher.
type Target interface {
	ProcessSynchronousEvents(simTime time.Time, equity, benchmark decimal.Decimal)
	SamplePerformance(t time.Time, value decimal.Decimal)
	DebugMessage(message string)
	LogMessage(message string)
	ErrorMessage(message, stackTrace string)
	SecurityType(types []model.SecurityType)
	RuntimeStatistic(key, value string)
	OrderEvent(order model.Order)
}

// Outcome is what a completed simulation hands to the final result.
type Outcome struct {
	Orders      map[int]model.Order
	ProfitLoss  map[time.Time]decimal.Decimal
	Statistics  map[string]string
	FinalEquity decimal.Decimal
	Days        int
}

// Simulation is a seeded random walk of a single-asset strategy and its benchmark.
// The same seed and config always produce the same output.
type Simulation struct {
	config configuration.SimulationConfig
	target Target
	rand   *rand.Rand

	equity       float64
	benchmark    float64
	position     int64
	nextOrderId  int
	peakEquity   float64
	maxDrawdown  float64
	orders       map[int]model.Order
	profitLoss   map[time.Time]decimal.Decimal
	dayOpen      float64
	day          int
	debugCounter int
}

func New(config configuration.SimulationConfig, seed int64, target Target) (*Simulation, error) {
	if !config.PeriodFinish.After(config.PeriodStart) {
		return nil, errors.Errorf("simulation must finish after it starts; got %s to %s", config.PeriodStart, config.PeriodFinish)
	}
	if config.Step <= 0 {
		return nil, errors.Errorf("simulation step must be positive; got %s", config.Step)
	}
	if config.InitialCapital <= 0 {
		return nil, errors.Errorf("initial capital must be positive; got %f", config.InitialCapital)
	}
	return &Simulation{
		config:      config,
		target:      target,
		rand:        rand.New(rand.NewSource(seed)),
		equity:      config.InitialCapital,
		benchmark:   config.InitialCapital,
		peakEquity:  config.InitialCapital,
		dayOpen:     config.InitialCapital,
		nextOrderId: 1,
		orders:      map[int]model.Order{},
		profitLoss:  map[time.Time]decimal.Decimal{},
	}, nil
}

// Run steps through the simulated period, returning early if ctx is cancelled.
func (s *Simulation) Run(ctx *runctx.Context) (*Outcome, error) {
	s.target.SecurityType([]model.SecurityType{model.SecurityTypeEquity})
	s.target.DebugMessage(fmt.Sprintf(
		"Launching random walk simulation from %s to %s with %s of capital",
		s.config.PeriodStart.Format("2006-01-02"), s.config.PeriodFinish.Format("2006-01-02"), money(s.config.InitialCapital),
	))

	stepVolatility := s.config.Volatility * math.Sqrt(s.config.Step.Hours())
	for t := s.config.PeriodStart; !t.After(s.config.PeriodFinish); t = t.Add(s.config.Step) {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		s.equity *= 1 + s.rand.NormFloat64()*stepVolatility
		s.benchmark *= 1 + s.rand.NormFloat64()*stepVolatility*benchmarkVolatilityRatio
		if s.equity <= 0 {
			s.target.ErrorMessage("Equity fell to zero; liquidating", "")
			s.equity = 0
		}
		s.trackDrawdown()
		s.target.ProcessSynchronousEvents(t, decimalMoney(s.equity), decimalMoney(s.benchmark))

		if day := int(t.Sub(s.config.PeriodStart).Hours() / 24); day > s.day {
			s.endOfDay(t, day)
		}
		if s.equity == 0 {
			break
		}
	}

	outcome := &Outcome{
		Orders:      s.orders,
		ProfitLoss:  s.profitLoss,
		Statistics:  s.statistics(),
		FinalEquity: decimalMoney(s.equity),
		Days:        s.day,
	}
	s.target.LogMessage(fmt.Sprintf("Simulation complete after %d days with final equity %s", s.day, money(s.equity)))
	return outcome, nil
}

func (s *Simulation) endOfDay(t time.Time, day int) {
	s.day = day
	dailyReturn := 0.0
	if s.dayOpen > 0 {
		dailyReturn = (s.equity - s.dayOpen) / s.dayOpen * 100
	}
	s.target.SamplePerformance(t, decimal.NewFromFloat(dailyReturn).Round(4))
	s.profitLoss[t] = decimalMoney(s.equity - s.dayOpen)
	s.dayOpen = s.equity

	s.target.RuntimeStatistic("Equity", money(s.equity))
	s.target.RuntimeStatistic("Return", percent(s.totalReturn()))
	s.target.RuntimeStatistic("Holdings", fmt.Sprintf("%d %s", s.position, symbol))

	for i := 0; i < s.config.DebugMessagesPerDay; i++ {
		s.debugCounter++
		s.target.DebugMessage(fmt.Sprintf("Day %d: equity %s, benchmark %s (%d)", day, money(s.equity), money(s.benchmark), s.debugCounter))
	}
	if s.rand.Float64() < tradeProbability {
		s.trade(t)
	}
}

func (s *Simulation) trade(t time.Time) {
	quantity := int64(s.rand.Intn(100) + 1)
	if s.position > 0 && s.rand.Intn(2) == 0 {
		quantity = -quantity
		if -quantity > s.position {
			quantity = -s.position
		}
	}
	price := decimalMoney(s.benchmark / 100)
	order := model.Order{
		Id:       s.nextOrderId,
		Symbol:   symbol,
		Quantity: decimal.NewFromInt(quantity),
		Price:    price,
		Time:     t,
		Status:   model.OrderStatusFilled,
	}
	s.nextOrderId++
	s.position += quantity
	s.orders[order.Id] = order
	s.target.OrderEvent(order)
	s.target.LogMessage(fmt.Sprintf("Order %d filled: %s %s @ %s", order.Id, order.Quantity, symbol, order.Price))
}

func (s *Simulation) trackDrawdown() {
	if s.equity > s.peakEquity {
		s.peakEquity = s.equity
		return
	}
	if drawdown := (s.peakEquity - s.equity) / s.peakEquity; drawdown > s.maxDrawdown {
		s.maxDrawdown = drawdown
	}
}

func (s *Simulation) totalReturn() float64 {
	return (s.equity - s.config.InitialCapital) / s.config.InitialCapital
}

func (s *Simulation) statistics() map[string]string {
	return map[string]string{
		"Total Trades":       fmt.Sprintf("%d", len(s.orders)),
		"Net Profit":         money(s.equity - s.config.InitialCapital),
		"Total Return":       percent(s.totalReturn()),
		"Benchmark Return":   percent((s.benchmark - s.config.InitialCapital) / s.config.InitialCapital),
		"Drawdown":           percent(s.maxDrawdown),
		"Days":               fmt.Sprintf("%d", s.day),
		"Start Equity":       money(s.config.InitialCapital),
		"End Equity":         money(s.equity),
		"Final Holdings":     fmt.Sprintf("%d", s.position),
		"Simulated Interval": s.config.Step.String(),
	}
}

func decimalMoney(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func money(v float64) string {
	return "$" + decimalMoney(v).StringFixed(2)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v*100).StringFixed(3) + "%"
}
