package fhe

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCleartextEncryptDecryptRoundTrip(t *testing.T) {
	provider := NewCleartextProvider()
	defer provider.Close()

	ct, err := provider.Encrypt(42, 32)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := ct.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	v, err := provider.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestCleartextEncryptRejectsOutOfRange(t *testing.T) {
	provider := NewCleartextProvider()
	defer provider.Close()

	if _, err := provider.Encrypt(256, 8); !errors.Is(err, ErrValueRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if _, err := provider.Encrypt(-1, 8); !errors.Is(err, ErrValueRange) {
		t.Fatalf("expected range error for negative input, got %v", err)
	}
}

func TestCleartextEvaluatorArithmetic(t *testing.T) {
	provider := NewCleartextProvider()
	defer provider.Close()
	eval := provider.Evaluator()

	a, _ := provider.Encrypt(30, 32)
	b, _ := provider.Encrypt(50, 32)

	sum, err := eval.Add(a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if v, _ := provider.Decrypt(sum); v != 80 {
		t.Fatalf("expected 80, got %d", v)
	}

	diff, err := eval.Sub(a, b)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if v, _ := provider.Decrypt(diff); v != -20 {
		t.Fatalf("expected -20, got %d", v)
	}

	bumped, err := eval.AddPlain(diff, 5)
	if err != nil {
		t.Fatalf("add plain: %v", err)
	}
	if v, _ := provider.Decrypt(bumped); v != -15 {
		t.Fatalf("expected -15, got %d", v)
	}
}

func TestCleartextEvaluatorSelect(t *testing.T) {
	provider := NewCleartextProvider()
	defer provider.Close()
	eval := provider.Evaluator()

	a, _ := provider.Encrypt(7, 16)
	b, _ := provider.Encrypt(9, 16)

	cond, err := eval.GtPlain(a, 5)
	if err != nil {
		t.Fatalf("gt plain: %v", err)
	}
	picked, err := eval.Select(cond, a, b)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if v, _ := provider.Decrypt(picked); v != 7 {
		t.Fatalf("expected branch a (7), got %d", v)
	}

	cond, err = eval.LtPlain(a, 5)
	if err != nil {
		t.Fatalf("lt plain: %v", err)
	}
	picked, err = eval.Select(cond, a, b)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if v, _ := provider.Decrypt(picked); v != 9 {
		t.Fatalf("expected branch b (9), got %d", v)
	}
}

func TestCiphertextJSONRoundTrip(t *testing.T) {
	provider := NewCleartextProvider()
	defer provider.Close()

	ct, _ := provider.Encrypt(123, 32)
	raw, err := json.Marshal(ct)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Ciphertext
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, err := provider.Decrypt(decoded); err != nil || v != 123 {
		t.Fatalf("expected 123 after round trip, got %d (err %v)", v, err)
	}
}

func TestValidateRejectsBadHandles(t *testing.T) {
	cases := []struct {
		name string
		ct   Ciphertext
	}{
		{"empty", Ciphertext{}},
		{"bad_id", Ciphertext{ID: "nope", BitWidth: 32, Payload: []byte{1}}},
		{"no_payload", Ciphertext{ID: newHandleID(), BitWidth: 32}},
		{"bad_width", Ciphertext{ID: newHandleID(), BitWidth: 7, Payload: []byte{1}}},
	}
	for _, tc := range cases {
		if err := tc.ct.Validate(); !errors.Is(err, ErrInvalidHandle) {
			t.Fatalf("%s: expected invalid handle error, got %v", tc.name, err)
		}
	}
}

func TestClosedProviderRejectsOperations(t *testing.T) {
	provider := NewCleartextProvider()
	ct, _ := provider.Encrypt(1, 8)
	if err := provider.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := provider.Encrypt(1, 8); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error on encrypt, got %v", err)
	}
	if _, err := provider.Decrypt(ct); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error on decrypt, got %v", err)
	}
}
