package interleave

import (
	"testing"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
)

func TestAcquire_SecondCallFailsWhileBusy(t *testing.T) {
	g := New()

	if err := g.Acquire("wallet"); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if !g.IsBusy("wallet") {
		t.Fatal("expected wallet to be busy after acquire")
	}

	err := g.Acquire("wallet")
	if err == nil {
		t.Fatal("expected second acquire to fail while busy")
	}
	if be, ok := err.(*brokererr.Error); !ok || be.Code != brokererr.InterleavedRequestError {
		t.Fatalf("expected InterleavedRequestError, got %v (%T)", err, err)
	}
}

func TestAcquire_DifferentCollectionsDontInterfere(t *testing.T) {
	g := New()

	if err := g.Acquire("wallet"); err != nil {
		t.Fatalf("acquire wallet: %v", err)
	}
	if err := g.Acquire("notes"); err != nil {
		t.Fatalf("acquire notes should not be blocked by wallet: %v", err)
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	g := New()

	if err := g.Acquire("wallet"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release("wallet")

	if g.IsBusy("wallet") {
		t.Fatal("expected wallet to be free after release")
	}
	if err := g.Acquire("wallet"); err != nil {
		t.Fatalf("expected reacquire after release to succeed: %v", err)
	}
}

func TestRelease_IdempotentOnUnacquiredName(t *testing.T) {
	g := New()
	g.Release("never-acquired") // must not panic
	if g.IsBusy("never-acquired") {
		t.Fatal("releasing an unacquired name should not mark it busy")
	}
}
