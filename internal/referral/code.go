package referral

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"
)

// CodeGenerator produces unique referral codes. Candidates are random over
// the unambiguous alphabet; uniqueness is checked against the store before a
// code is handed out. The code is only bound to a user inside
// Store.CreateUser, so a generated-but-unused code is never orphaned.
type CodeGenerator struct {
	store Store
	seq   atomic.Uint64
}

func NewCodeGenerator(store Store) *CodeGenerator {
	g := &CodeGenerator{store: store}
	g.seq.Store(uint64(time.Now().UnixNano()))
	return g
}

func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < CodeGenAttempts; attempt++ {
		suffix, err := randomSuffix(CodeSuffixLen)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code := CodePrefix + suffix
		exists, err := g.store.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	// All random attempts collided. The code space is ~1e9 so this only
	// happens under data corruption or absurd scale; fall through to a
	// monotonic-sequence code that cannot repeat.
	return g.fallback(ctx)
}

func (g *CodeGenerator) fallback(ctx context.Context) (string, error) {
	for {
		code := CodePrefix + encodeSeq(g.seq.Add(1))
		exists, err := g.store.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check fallback code: %w", err)
		}
		if !exists {
			return code, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = CodeAlphabet[int(buf[i])%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// encodeSeq renders a sequence value in the code alphabet, padded so the
// suffix never dips below the standard length.
func encodeSeq(v uint64) string {
	base := uint64(len(CodeAlphabet))
	var out []byte
	for v > 0 {
		out = append([]byte{CodeAlphabet[v%base]}, out...)
		v /= base
	}
	for len(out) < CodeSuffixLen {
		out = append([]byte{CodeAlphabet[0]}, out...)
	}
	return string(out)
}
