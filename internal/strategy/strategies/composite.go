package strategies

import (
	"fmt"
	"math"
	"strings"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const voteEpsilon = 1e-12

// Composite runs its children and resolves their signals by a weighted vote.
// Each vote counts confidence × strength; an exact tie is HOLD.
type Composite struct {
	children []ports.Strategy
	weights  map[string]float64
}

// NewComposite creates a composite over children. A child without a weight
// votes with confidence 1.
func NewComposite(children []ports.Strategy, weights map[string]float64) (*Composite, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("composite strategy needs at least one child")
	}
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		if v < 0 {
			return nil, fmt.Errorf("weight for %s must not be negative", k)
		}
		w[k] = v
	}
	return &Composite{children: children, weights: w}, nil
}

// Name returns the name of the strategy
func (c *Composite) Name() string { return NameComposite }

// RequiredDataPoints is the largest requirement among the children.
func (c *Composite) RequiredDataPoints() int {
	need := 0
	for _, ch := range c.children {
		need = max(need, ch.RequiredDataPoints())
	}
	return need
}

func (c *Composite) weight(name string) float64 {
	if w, ok := c.weights[name]; ok {
		return w
	}
	return 1.0
}

// Analyze implements ports.Strategy.
func (c *Composite) Analyze(history []domain.PriceBar) domain.Signal {
	inst, at := lastBar(history)

	var buyScore, sellScore float64
	var buyStrengths, sellStrengths []float64
	votes := make([]string, 0, len(c.children))

	for _, child := range c.children {
		sig := child.Analyze(history)
		votes = append(votes, fmt.Sprintf("%s:%s(%.2f)", child.Name(), sig.Direction, sig.Strength))
		switch sig.Direction {
		case domain.DirectionBuy:
			buyScore += c.weight(child.Name()) * sig.Strength
			buyStrengths = append(buyStrengths, sig.Strength)
		case domain.DirectionSell:
			sellScore += c.weight(child.Name()) * sig.Strength
			sellStrengths = append(sellStrengths, sig.Strength)
		}
	}

	detail := fmt.Sprintf("buy=%.3f sell=%.3f [%s]", buyScore, sellScore, strings.Join(votes, " "))
	switch {
	case len(buyStrengths) == 0 && len(sellStrengths) == 0:
		return domain.Hold(inst, c.Name(), at, "no votes "+detail)
	case math.Abs(buyScore-sellScore) <= voteEpsilon:
		return domain.Hold(inst, c.Name(), at, "tied vote "+detail)
	case buyScore > sellScore:
		return domain.Signal{Instrument: inst, StrategyID: c.Name(), Direction: domain.DirectionBuy,
			Strength: mean(buyStrengths), GeneratedAt: at, Rationale: "weighted vote " + detail}
	default:
		return domain.Signal{Instrument: inst, StrategyID: c.Name(), Direction: domain.DirectionSell,
			Strength: mean(sellStrengths), GeneratedAt: at, Rationale: "weighted vote " + detail}
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
