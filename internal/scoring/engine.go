// Package scoring computes the credit rubric entirely over ciphertexts.
package scoring

import (
	"fmt"

	"github.com/fhecredit/backend/internal/fhe"
)

// accumulatorWidth is wide and signed so the running sum can hold the
// rubric's full unclamped range (roughly -4 to +11) without wraparound
// before the final clamp.
const accumulatorWidth = 16

const (
	baseScore = 3
	minScore  = 1
	maxScore  = 5
)

// Inputs are the five encrypted attributes of one credit record.
type Inputs struct {
	Income         fhe.Ciphertext
	Debt           fhe.Ciphertext
	Age            fhe.Ciphertext
	CreditHistory  fhe.Ciphertext
	PaymentHistory fhe.Ciphertext
}

// Result carries the encrypted clamped score in [1,5] and the encrypted
// approval flag (score >= 3).
type Result struct {
	Score    fhe.Ciphertext
	Approved fhe.Ciphertext
}

type Engine struct {
	provider fhe.Provider
	eval     fhe.Evaluator
}

func NewEngine(provider fhe.Provider) *Engine {
	return &Engine{provider: provider, eval: provider.Evaluator()}
}

// Evaluate is pure over the ciphertexts: it reads the five inputs and
// produces two fresh handles. Every threshold adjustment is an encrypted
// predicate followed by an oblivious select between score+delta and score,
// so no observer learns which branch was taken.
func (e *Engine) Evaluate(in Inputs) (Result, error) {
	score, err := e.provider.Encrypt(baseScore, accumulatorWidth)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: base score: %w", err)
	}

	doubleIncome, err := e.eval.Add(in.Income, in.Income)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: 2x income: %w", err)
	}

	steps := []struct {
		name  string
		pred  func() (fhe.Ciphertext, error)
		delta int64
	}{
		{"age>25", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Age, 25) }, +1},
		{"age>40", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Age, 40) }, +1},
		{"creditHistory>5", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.CreditHistory, 5) }, +1},
		{"creditHistory>10", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.CreditHistory, 10) }, +1},
		{"paymentHistory>7", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.PaymentHistory, 7) }, +1},
		{"paymentHistory==10", func() (fhe.Ciphertext, error) { return e.eval.EqPlain(in.PaymentHistory, 10) }, +1},
		{"debt>20000", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Debt, 20000) }, -1},
		{"debt>50000", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Debt, 50000) }, -1},
		{"debt>income", func() (fhe.Ciphertext, error) { return e.eval.Gt(in.Debt, in.Income) }, -2},
		{"debt>2income", func() (fhe.Ciphertext, error) { return e.eval.Gt(in.Debt, doubleIncome) }, -1},
		{"income>5000", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Income, 5000) }, +1},
		{"income>10000", func() (fhe.Ciphertext, error) { return e.eval.GtPlain(in.Income, 10000) }, +1},
	}

	for _, step := range steps {
		pred, err := step.pred()
		if err != nil {
			return Result{}, fmt.Errorf("scoring: predicate %s: %w", step.name, err)
		}
		score, err = e.adjust(score, pred, step.delta)
		if err != nil {
			return Result{}, fmt.Errorf("scoring: adjust %s: %w", step.name, err)
		}
	}

	score, err = e.clamp(score)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: clamp: %w", err)
	}

	approved, err := e.eval.GtPlain(score, minScore+1)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: approval flag: %w", err)
	}

	return Result{Score: score, Approved: approved}, nil
}

func (e *Engine) adjust(score, pred fhe.Ciphertext, delta int64) (fhe.Ciphertext, error) {
	adjusted, err := e.eval.AddPlain(score, delta)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return e.eval.Select(pred, adjusted, score)
}

func (e *Engine) clamp(score fhe.Ciphertext) (fhe.Ciphertext, error) {
	low, err := e.provider.Encrypt(minScore, accumulatorWidth)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	high, err := e.provider.Encrypt(maxScore, accumulatorWidth)
	if err != nil {
		return fhe.Ciphertext{}, err
	}

	tooLow, err := e.eval.LtPlain(score, minScore)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	score, err = e.eval.Select(tooLow, low, score)
	if err != nil {
		return fhe.Ciphertext{}, err
	}

	tooHigh, err := e.eval.GtPlain(score, maxScore)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return e.eval.Select(tooHigh, high, score)
}
