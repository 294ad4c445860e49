package pending

import "testing"

func TestPutTake_Roundtrip(t *testing.T) {
	tbl := New()
	resumed := false

	tbl.Put(&Request{
		RequestID: "req-1",
		CallerPID: 42,
		Kind: "set_collection_secret",
		CollectionName: "wallet",
		Continuation: func(o InteractionOutcome) { resumed = true },
	})

	if tbl.Len() != 1 {
		t.Fatalf("expected 1 pending request, got %d", tbl.Len())
	}

	r := tbl.Take("req-1")
	if r == nil {
		t.Fatal("expected to find the pending request")
	}
	if r.CallerPID != 42 || r.CollectionName != "wallet" {
		t.Fatalf("unexpected request fields: %+v", r)
	}

	r.Continuation(InteractionOutcome{UserInput: []byte("code")})
	if !resumed {
		t.Fatal("expected continuation to run")
	}

	if tbl.Len() != 0 {
		t.Fatalf("expected table empty after Take, got %d", tbl.Len())
	}
}

func TestTake_UnknownRequestIDReturnsNil(t *testing.T) {
	tbl := New()
	if r := tbl.Take("never-put"); r != nil {
		t.Fatalf("expected nil for unknown request id, got %+v", r)
	}
}

func TestTake_RemovesEntryOnlyOnce(t *testing.T) {
	tbl := New()
	tbl.Put(&Request{RequestID: "req-1"})

	first := tbl.Take("req-1")
	second := tbl.Take("req-1")

	if first == nil {
		t.Fatal("expected first Take to return the request")
	}
	if second != nil {
		t.Fatal("expected second Take of the same id to return nil")
	}
}
