package fhe

import (
	"encoding/binary"
	"fmt"
)

// CleartextProvider implements the capability over plain values for local
// development and tests. Handles look like any other handle to callers; the
// payload is the big-endian two's-complement value.
type CleartextProvider struct {
	closed bool
}

func NewCleartextProvider() *CleartextProvider {
	return &CleartextProvider{}
}

func (p *CleartextProvider) Encrypt(value int64, bitWidth uint8) (Ciphertext, error) {
	if p.closed {
		return Ciphertext{}, ErrClosed
	}
	if err := checkRange(value, bitWidth); err != nil {
		return Ciphertext{}, err
	}
	return cleartextHandle(value, bitWidth), nil
}

func (p *CleartextProvider) Decrypt(ct Ciphertext) (int64, error) {
	if p.closed {
		return 0, ErrClosed
	}
	return cleartextValue(ct)
}

func (p *CleartextProvider) Evaluator() Evaluator {
	return &cleartextEvaluator{}
}

func (p *CleartextProvider) Close() error {
	p.closed = true
	return nil
}

type cleartextEvaluator struct{}

func cleartextHandle(value int64, bitWidth uint8) Ciphertext {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(value))
	return Ciphertext{ID: newHandleID(), BitWidth: bitWidth, Payload: payload}
}

func cleartextValue(ct Ciphertext) (int64, error) {
	if len(ct.Payload) != 8 {
		return 0, fmt.Errorf("%w: payload length %d", ErrInvalidHandle, len(ct.Payload))
	}
	return int64(binary.BigEndian.Uint64(ct.Payload)), nil
}

func widenWidth(a, b Ciphertext) uint8 {
	w := a.BitWidth
	if b.BitWidth > w {
		w = b.BitWidth
	}
	if w < 16 {
		w = 16
	}
	return w
}

func boolHandleClear(v bool) Ciphertext {
	if v {
		return cleartextHandle(1, 1)
	}
	return cleartextHandle(0, 1)
}

func (e *cleartextEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bv, err := cleartextValue(b)
	if err != nil {
		return Ciphertext{}, err
	}
	return cleartextHandle(av+bv, widenWidth(a, b)), nil
}

func (e *cleartextEvaluator) Sub(a, b Ciphertext) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bv, err := cleartextValue(b)
	if err != nil {
		return Ciphertext{}, err
	}
	return cleartextHandle(av-bv, widenWidth(a, b)), nil
}

func (e *cleartextEvaluator) AddPlain(a Ciphertext, v int64) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return cleartextHandle(av+v, widenWidth(a, a)), nil
}

func (e *cleartextEvaluator) Gt(a, b Ciphertext) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bv, err := cleartextValue(b)
	if err != nil {
		return Ciphertext{}, err
	}
	return boolHandleClear(av > bv), nil
}

func (e *cleartextEvaluator) GtPlain(a Ciphertext, v int64) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return boolHandleClear(av > v), nil
}

func (e *cleartextEvaluator) LtPlain(a Ciphertext, v int64) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return boolHandleClear(av < v), nil
}

func (e *cleartextEvaluator) EqPlain(a Ciphertext, v int64) (Ciphertext, error) {
	av, err := cleartextValue(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return boolHandleClear(av == v), nil
}

func (e *cleartextEvaluator) Select(cond, a, b Ciphertext) (Ciphertext, error) {
	cv, err := cleartextValue(cond)
	if err != nil {
		return Ciphertext{}, err
	}
	if cv != 0 {
		av, err := cleartextValue(a)
		if err != nil {
			return Ciphertext{}, err
		}
		return cleartextHandle(av, widenWidth(a, b)), nil
	}
	bv, err := cleartextValue(b)
	if err != nil {
		return Ciphertext{}, err
	}
	return cleartextHandle(bv, widenWidth(a, b)), nil
}
