package match

import (
	nchess "github.com/corentings/chess/v2"

	"github.com/park285/vibechess-server/internal/obslog"
	"go.uber.org/zap"
)

// ResolveOrRandom resolves the model's suggested move, substituting a
// uniformly random legal move when the suggestion is empty or illegal. The
// second result reports whether the fallback was taken. Returns nil only
// when the game is already over.
func ResolveOrRandom(b *Board, suggestion string) (*nchess.Move, bool) {
	if mv := b.Resolve(suggestion); mv != nil {
		return mv, false
	}
	mv := b.RandomMove()
	if mv == nil {
		return nil, false
	}
	obslog.L().Warn("invalid move from model, using random fallback",
		zap.String("suggested", suggestion))
	return mv, true
}
