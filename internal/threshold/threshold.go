package threshold

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroBuyPrice is returned when a position has no usable purchase price.
// The percent move is undefined in that case, so callers must exclude the
// position before evaluating.
var ErrZeroBuyPrice = errors.New("threshold: buy price must be greater than zero")

// Direction says which way a position has moved relative to its buy price.
type Direction int

const (
	Gain Direction = iota
	Loss
)

func (d Direction) String() string {
	if d == Loss {
		return "loss"
	}
	return "gain"
}

// Evaluation is the result of comparing a live market price against a
// holder's recorded purchase. All fiat amounts are in the configured fiat
// unit of the engine that produced it.
type Evaluation struct {
	// DiffFiat is currentPrice - buyPrice, signed.
	DiffFiat float64
	// PercentMove is the unsigned size of the move as a percentage of the
	// buy price.
	PercentMove float64
	// RealizedFiat is the unsigned per-unit fiat equivalent of the move.
	RealizedFiat float64
	// RealizedTotal is RealizedFiat scaled by the held quantity.
	RealizedTotal float64
	// CapitalGain and CapitalLoss are the per-unit fiat amounts that the
	// configured positive and negative percentage thresholds represent.
	CapitalGain float64
	CapitalLoss float64

	Direction       Direction
	CrossedPositive bool
	CrossedNegative bool
}

// Crossed reports whether either boundary was crossed.
func (e Evaluation) Crossed() bool {
	return e.CrossedPositive || e.CrossedNegative
}

// Summary renders the threshold string that gets persisted and shown to the
// user: signed fiat total and signed percent, both rounded to two decimals,
// e.g. "+40.00 MXN +20.00%".
func (e Evaluation) Summary(fiat string) string {
	sign := "+"
	if e.Direction == Loss {
		sign = "-"
	}
	return fmt.Sprintf("%s%.2f %s %s%.2f%%", sign, e.RealizedTotal, fiat, sign, e.PercentMove)
}

// Engine evaluates positions against a fixed pair of gain/loss percentage
// boundaries. It is pure computation: no I/O, deterministic per input.
type Engine struct {
	positivePct float64
	negativePct float64
	fiat        string
}

func NewEngine(positivePct, negativePct float64, fiat string) *Engine {
	return &Engine{positivePct: positivePct, negativePct: negativePct, fiat: fiat}
}

// Fiat returns the fiat unit evaluations are denominated in.
func (en *Engine) Fiat() string { return en.fiat }

// Evaluate compares currentPrice against buyPrice for a holding of the given
// quantity. At most one of CrossedPositive/CrossedNegative is set: the
// positive boundary is only considered for a non-negative move and the
// negative one only for a drop.
//
// The crossing test compares the raw price difference against the fiat
// amount each percentage boundary represents.
func (en *Engine) Evaluate(currentPrice, buyPrice, quantity float64) (Evaluation, error) {
	if buyPrice <= 0 {
		return Evaluation{}, ErrZeroBuyPrice
	}

	diff := currentPrice - buyPrice
	percentMove := math.Abs(diff) * 100 / buyPrice
	realizedFiat := percentMove * buyPrice / 100
	ev := Evaluation{
		DiffFiat:      diff,
		PercentMove:   percentMove,
		RealizedFiat:  realizedFiat,
		RealizedTotal: realizedFiat * quantity,
		CapitalGain:   en.positivePct * buyPrice / 100,
		CapitalLoss:   en.negativePct * buyPrice / 100,
	}

	if diff >= 0 {
		ev.Direction = Gain
		ev.CrossedPositive = diff >= ev.CapitalGain
	} else {
		ev.Direction = Loss
		ev.CrossedNegative = -diff >= ev.CapitalLoss
	}
	return ev, nil
}
