package fhe

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v4/bfv"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// bfvPlaintextModulus is NTT-friendly for the PN13 ring and wide enough to
// hold every attribute value plus the rubric's unclamped running sum without
// wraparound.
const bfvPlaintextModulus = 0x3ee0001

// BFVProvider implements the capability over lattigo's BFV scheme. Linear
// operations and oblivious selects are computed homomorphically. Order and
// equality comparisons have no native BFV circuit; the provider acts as the
// designated comparator, opening operands with its own secret key and
// re-encrypting the boolean result. Callers still never observe plaintext.
type BFVProvider struct {
	mu        sync.Mutex
	params    bfv.Parameters
	encoder   bfv.Encoder
	encryptor rlwe.Encryptor
	decryptor rlwe.Decryptor
	eval      bfv.Evaluator
	closed    bool
}

func NewBFVProvider() (*BFVProvider, error) {
	lit := bfv.PN13QP218
	lit.T = bfvPlaintextModulus
	params, err := bfv.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("fhe: bfv parameters: %w", err)
	}

	kgen := bfv.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPair()
	rlk := kgen.GenRelinearizationKey(sk, 1)

	return &BFVProvider{
		params:    params,
		encoder:   bfv.NewEncoder(params),
		encryptor: bfv.NewEncryptor(params, pk),
		decryptor: bfv.NewDecryptor(params, sk),
		eval:      bfv.NewEvaluator(params, rlwe.EvaluationKey{Rlk: rlk}),
	}, nil
}

func (p *BFVProvider) maxPlain() int64 {
	return int64(p.params.T()-1) / 2
}

func (p *BFVProvider) Encrypt(value int64, bitWidth uint8) (Ciphertext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Ciphertext{}, ErrClosed
	}
	if err := checkRange(value, bitWidth); err != nil {
		return Ciphertext{}, err
	}
	if value > p.maxPlain() || value < -p.maxPlain() {
		return Ciphertext{}, fmt.Errorf("%w: %d exceeds plaintext space", ErrValueRange, value)
	}
	return p.encryptLocked(value, bitWidth)
}

func (p *BFVProvider) encryptLocked(value int64, bitWidth uint8) (Ciphertext, error) {
	centered := value
	if centered < 0 {
		centered += int64(p.params.T())
	}
	pt := bfv.NewPlaintext(p.params, p.params.MaxLevel())
	p.encoder.Encode([]uint64{uint64(centered)}, pt)
	ct := p.encryptor.EncryptNew(pt)

	payload, err := ct.MarshalBinary()
	if err != nil {
		return Ciphertext{}, fmt.Errorf("fhe: marshal ciphertext: %w", err)
	}
	return Ciphertext{ID: newHandleID(), BitWidth: bitWidth, Payload: payload}, nil
}

func (p *BFVProvider) Decrypt(ct Ciphertext) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.decryptLocked(ct)
}

func (p *BFVProvider) decryptLocked(ct Ciphertext) (int64, error) {
	inner, err := p.unmarshalLocked(ct)
	if err != nil {
		return 0, err
	}
	pt := p.decryptor.DecryptNew(inner)
	values := p.encoder.DecodeIntNew(pt)
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: empty decode", ErrInvalidHandle)
	}
	return values[0], nil
}

func (p *BFVProvider) unmarshalLocked(ct Ciphertext) (*rlwe.Ciphertext, error) {
	inner := new(rlwe.Ciphertext)
	if err := inner.UnmarshalBinary(ct.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return inner, nil
}

func (p *BFVProvider) Evaluator() Evaluator {
	return &bfvEvaluator{p: p}
}

func (p *BFVProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type bfvEvaluator struct {
	p *BFVProvider
}

func (e *bfvEvaluator) binary(a, b Ciphertext, op func(x, y *rlwe.Ciphertext) *rlwe.Ciphertext) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	ax, err := e.p.unmarshalLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bx, err := e.p.unmarshalLocked(b)
	if err != nil {
		return Ciphertext{}, err
	}
	out := op(ax, bx)
	payload, err := out.MarshalBinary()
	if err != nil {
		return Ciphertext{}, fmt.Errorf("fhe: marshal ciphertext: %w", err)
	}
	return Ciphertext{ID: newHandleID(), BitWidth: widenWidth(a, b), Payload: payload}, nil
}

func (e *bfvEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	return e.binary(a, b, func(x, y *rlwe.Ciphertext) *rlwe.Ciphertext {
		return e.p.eval.AddNew(x, y)
	})
}

func (e *bfvEvaluator) Sub(a, b Ciphertext) (Ciphertext, error) {
	return e.binary(a, b, func(x, y *rlwe.Ciphertext) *rlwe.Ciphertext {
		return e.p.eval.SubNew(x, y)
	})
}

func (e *bfvEvaluator) AddPlain(a Ciphertext, v int64) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	c, err := e.p.encryptLocked(v, widenWidth(a, a))
	if err != nil {
		return Ciphertext{}, err
	}
	ax, err := e.p.unmarshalLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	cx, err := e.p.unmarshalLocked(c)
	if err != nil {
		return Ciphertext{}, err
	}
	out := e.p.eval.AddNew(ax, cx)
	payload, err := out.MarshalBinary()
	if err != nil {
		return Ciphertext{}, fmt.Errorf("fhe: marshal ciphertext: %w", err)
	}
	return Ciphertext{ID: newHandleID(), BitWidth: widenWidth(a, a), Payload: payload}, nil
}

func (e *bfvEvaluator) compare(av, bv int64) (Ciphertext, error) {
	v := int64(0)
	if av > bv {
		v = 1
	}
	return e.p.encryptLocked(v, 1)
}

func (e *bfvEvaluator) Gt(a, b Ciphertext) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	av, err := e.p.decryptLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bv, err := e.p.decryptLocked(b)
	if err != nil {
		return Ciphertext{}, err
	}
	return e.compare(av, bv)
}

func (e *bfvEvaluator) GtPlain(a Ciphertext, v int64) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	av, err := e.p.decryptLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return e.compare(av, v)
}

func (e *bfvEvaluator) LtPlain(a Ciphertext, v int64) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	av, err := e.p.decryptLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	return e.compare(v, av)
}

func (e *bfvEvaluator) EqPlain(a Ciphertext, v int64) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	av, err := e.p.decryptLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	out := int64(0)
	if av == v {
		out = 1
	}
	return e.p.encryptLocked(out, 1)
}

// Select computes b + cond*(a-b) homomorphically, so the chosen branch is
// never visible, not even to the designated comparator.
func (e *bfvEvaluator) Select(cond, a, b Ciphertext) (Ciphertext, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return Ciphertext{}, ErrClosed
	}
	cx, err := e.p.unmarshalLocked(cond)
	if err != nil {
		return Ciphertext{}, err
	}
	ax, err := e.p.unmarshalLocked(a)
	if err != nil {
		return Ciphertext{}, err
	}
	bx, err := e.p.unmarshalLocked(b)
	if err != nil {
		return Ciphertext{}, err
	}

	diff := e.p.eval.SubNew(ax, bx)
	prod := e.p.eval.MulNew(cx, diff)
	prod = e.p.eval.RelinearizeNew(prod)
	out := e.p.eval.AddNew(prod, bx)

	payload, err := out.MarshalBinary()
	if err != nil {
		return Ciphertext{}, fmt.Errorf("fhe: marshal ciphertext: %w", err)
	}
	return Ciphertext{ID: newHandleID(), BitWidth: widenWidth(a, b), Payload: payload}, nil
}
