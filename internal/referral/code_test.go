package referral

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	store := NewMemoryStore()
	gen := NewCodeGenerator(store)

	code, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(code, CodePrefix) {
		t.Fatalf("code %q missing prefix %q", code, CodePrefix)
	}
	if len(code) != len(CodePrefix)+CodeSuffixLen {
		t.Fatalf("code %q has wrong length", code)
	}
	if !ValidCode(code) {
		t.Fatalf("generated code %q fails validation", code)
	}
}

func TestGenerateUniqueAcrossBoundCodes(t *testing.T) {
	store := NewMemoryStore()
	gen := NewCodeGenerator(store)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := gen.Generate(ctx)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q handed out", code)
		}
		seen[code] = true
		// Bind the code so the next round's uniqueness check sees it.
		if err := store.CreateUser(ctx, "u"+code, code, ""); err != nil {
			t.Fatalf("bind code: %v", err)
		}
	}
}

// collidingStore forces the random attempts to collide so the deterministic
// fallback path runs.
type collidingStore struct {
	*MemoryStore
	collisions int
}

func (s *collidingStore) CodeExists(ctx context.Context, code string) (bool, error) {
	if s.collisions > 0 {
		s.collisions--
		return true, nil
	}
	return s.MemoryStore.CodeExists(ctx, code)
}

func TestGenerateFallbackTerminates(t *testing.T) {
	store := &collidingStore{MemoryStore: NewMemoryStore(), collisions: CodeGenAttempts}
	gen := NewCodeGenerator(store)

	code, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate with collisions: %v", err)
	}
	if !ValidCode(code) {
		t.Fatalf("fallback code %q fails validation", code)
	}
}

func TestEncodeSeq(t *testing.T) {
	a := encodeSeq(1)
	b := encodeSeq(2)
	if a == b {
		t.Fatalf("consecutive sequence values must differ: %q", a)
	}
	if len(a) < CodeSuffixLen {
		t.Fatalf("fallback suffix %q shorter than %d", a, CodeSuffixLen)
	}
	for _, r := range a {
		if !strings.ContainsRune(CodeAlphabet, r) {
			t.Fatalf("fallback suffix %q uses %q outside the alphabet", a, r)
		}
	}
}
