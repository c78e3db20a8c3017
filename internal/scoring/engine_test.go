package scoring

import (
	"testing"

	"github.com/fhecredit/backend/internal/fhe"
)

func encryptInputs(t *testing.T, provider fhe.Provider, income, debt, age, history, payment int64) Inputs {
	t.Helper()
	encrypt := func(v int64) fhe.Ciphertext {
		ct, err := provider.Encrypt(v, 32)
		if err != nil {
			t.Fatalf("encrypt %d: %v", v, err)
		}
		return ct
	}
	return Inputs{
		Income:         encrypt(income),
		Debt:           encrypt(debt),
		Age:            encrypt(age),
		CreditHistory:  encrypt(history),
		PaymentHistory: encrypt(payment),
	}
}

func evaluatePlain(t *testing.T, provider fhe.Provider, in Inputs) (int64, bool) {
	t.Helper()
	engine := NewEngine(provider)
	result, err := engine.Evaluate(in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	score, err := provider.Decrypt(result.Score)
	if err != nil {
		t.Fatalf("decrypt score: %v", err)
	}
	approvedVal, err := provider.Decrypt(result.Approved)
	if err != nil {
		t.Fatalf("decrypt approval: %v", err)
	}
	return score, approvedVal != 0
}

func TestEvaluateStrongProfile(t *testing.T) {
	provider := fhe.NewCleartextProvider()
	defer provider.Close()

	// income=8000, debt=5000, age=35, history=8, payment=9: unclamped 7.
	score, approved := evaluatePlain(t, provider, encryptInputs(t, provider, 8000, 5000, 35, 8, 9))
	if score != 5 {
		t.Fatalf("expected score 5, got %d", score)
	}
	if !approved {
		t.Fatalf("expected approval")
	}
}

func TestEvaluateWeakProfileNegativeIntermediate(t *testing.T) {
	provider := fhe.NewCleartextProvider()
	defer provider.Close()

	// income=2000, debt=30000, age=20, history=1, payment=3: the running
	// sum dips to -1 before the clamp, which must not wrap around.
	score, approved := evaluatePlain(t, provider, encryptInputs(t, provider, 2000, 30000, 20, 1, 3))
	if score != 1 {
		t.Fatalf("expected score 1, got %d", score)
	}
	if approved {
		t.Fatalf("expected denial")
	}
}

func TestEvaluateMaximumProfile(t *testing.T) {
	provider := fhe.NewCleartextProvider()
	defer provider.Close()

	// income=15000, debt=1000, age=45, history=15, payment=10: unclamped 11.
	score, approved := evaluatePlain(t, provider, encryptInputs(t, provider, 15000, 1000, 45, 15, 10))
	if score != 5 {
		t.Fatalf("expected score 5, got %d", score)
	}
	if !approved {
		t.Fatalf("expected approval")
	}
}

func TestEvaluateScoreAlwaysClampedAndApprovalMatches(t *testing.T) {
	provider := fhe.NewCleartextProvider()
	defer provider.Close()

	cases := []struct {
		name                                 string
		income, debt, age, history, payment  int64
	}{
		{"all_zero", 0, 0, 0, 0, 0},
		{"deep_debt", 100, 200000, 18, 0, 0},
		{"borderline", 5001, 20001, 26, 6, 8},
		{"middle", 7000, 7000, 30, 3, 5},
		{"payment_exactly_ten", 12000, 0, 41, 11, 10},
	}
	for _, tc := range cases {
		in := encryptInputs(t, provider, tc.income, tc.debt, tc.age, tc.history, tc.payment)
		score, approved := evaluatePlain(t, provider, in)
		if score < 1 || score > 5 {
			t.Fatalf("%s: score %d outside [1,5]", tc.name, score)
		}
		if approved != (score >= 3) {
			t.Fatalf("%s: approval %v inconsistent with score %d", tc.name, approved, score)
		}
	}
}

func TestEvaluateIsPureOverInputs(t *testing.T) {
	provider := fhe.NewCleartextProvider()
	defer provider.Close()

	in := encryptInputs(t, provider, 8000, 5000, 35, 8, 9)
	first, _ := evaluatePlain(t, provider, in)
	second, _ := evaluatePlain(t, provider, in)
	if first != second {
		t.Fatalf("expected deterministic score, got %d then %d", first, second)
	}

	// Inputs must be untouched.
	income, err := provider.Decrypt(in.Income)
	if err != nil {
		t.Fatalf("decrypt income after evaluate: %v", err)
	}
	if income != 8000 {
		t.Fatalf("input mutated: income now %d", income)
	}
}
