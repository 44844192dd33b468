package match

import "testing"

func TestResolveOrRandomLegalSuggestion(t *testing.T) {
	b := NewBoard()
	mv, fallback := ResolveOrRandom(b, "e4")
	if mv == nil || fallback {
		t.Fatalf("legal SAN should resolve directly: mv=%v fallback=%v", mv, fallback)
	}

	mv, fallback = ResolveOrRandom(b, "g1f3")
	if mv == nil || fallback {
		t.Fatalf("legal UCI should resolve directly: mv=%v fallback=%v", mv, fallback)
	}
}

func TestResolveOrRandomFallsBack(t *testing.T) {
	b := NewBoard()
	legal := make(map[string]bool)
	for _, m := range b.LegalMovesSAN() {
		legal[m] = true
	}

	for _, bad := range []string{"", "Qh5#", "zz9", "resign"} {
		mv, fallback := ResolveOrRandom(b, bad)
		if mv == nil || !fallback {
			t.Fatalf("suggestion %q: expected random fallback, mv=%v fallback=%v", bad, mv, fallback)
		}
	}
}

func TestResolveOrRandomFinishedGame(t *testing.T) {
	b, err := NewBoardFromMoves([]string{"f2f3", "e7e5", "g2g4", "d8h4"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	mv, fallback := ResolveOrRandom(b, "e4")
	if mv != nil || fallback {
		t.Fatalf("finished game should yield nil: mv=%v fallback=%v", mv, fallback)
	}
}
