package match

import (
	"fmt"
	"math/rand/v2"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/vibechess-server/internal/domain"
)

// Board wraps a chess game replayed from the stored move list. Replaying
// from the initial position keeps repetition and move-rule counters correct
// after a restart, which a bare FEN snapshot would lose.
type Board struct {
	game *nchess.Game
}

func NewBoard() *Board {
	return &Board{game: nchess.NewGame()}
}

// NewBoardFromMoves reconstructs a board from UCI moves played so far.
func NewBoardFromMoves(movesUCI []string) (*Board, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range movesUCI {
		move, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(mv)))
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", mv, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv, err)
		}
	}
	return &Board{game: game}, nil
}

func (b *Board) Turn() domain.Color {
	if b.game.Position().Turn() == nchess.White {
		return domain.White
	}
	return domain.Black
}

// LegalMovesSAN lists every legal move in algebraic notation.
func (b *Board) LegalMovesSAN() []string {
	pos := b.game.Position()
	notation := nchess.AlgebraicNotation{}
	moves := b.game.ValidMoves()
	out := make([]string, 0, len(moves))
	for i := range moves {
		out = append(out, notation.Encode(pos, &moves[i]))
	}
	return out
}

// Resolve parses a move string as SAN first, then UCI. Returns nil when the
// string is not a legal move in the current position.
func (b *Board) Resolve(moveStr string) *nchess.Move {
	s := strings.TrimSpace(moveStr)
	if s == "" {
		return nil
	}
	pos := b.game.Position()
	if mv, err := (nchess.AlgebraicNotation{}).Decode(pos, s); err == nil {
		return mv
	}
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(s)); err == nil {
		return mv
	}
	return nil
}

// RandomMove picks a uniformly random legal move. Returns nil only when the
// game is already over.
func (b *Board) RandomMove() *nchess.Move {
	moves := b.game.ValidMoves()
	if len(moves) == 0 {
		return nil
	}
	return &moves[rand.IntN(len(moves))]
}

// Apply plays the move and returns its SAN and UCI forms, encoded against
// the position before the move.
func (b *Board) Apply(mv *nchess.Move) (san, uci string, err error) {
	pos := b.game.Position()
	san = nchess.AlgebraicNotation{}.Encode(pos, mv)
	uci = strings.ToLower(nchess.UCINotation{}.Encode(pos, mv))
	if err := b.game.Move(mv, nil); err != nil {
		return "", "", fmt.Errorf("apply %s: %w", san, err)
	}
	return san, uci, nil
}

func (b *Board) FEN() string {
	return b.game.FEN()
}

func (b *Board) GameOver() bool {
	return b.game.Outcome() != nchess.NoOutcome
}

// ASCII renders the board as rank-descending rows of piece letters with dots
// for empty squares, the format the move prompt describes to the model.
func (b *Board) ASCII() string {
	placement := strings.SplitN(b.game.FEN(), " ", 2)[0]
	var sb strings.Builder
	for i, rank := range strings.Split(placement, "/") {
		if i > 0 {
			sb.WriteByte('\n')
		}
		first := true
		for _, r := range rank {
			if r >= '1' && r <= '8' {
				for n := 0; n < int(r-'0'); n++ {
					if !first {
						sb.WriteByte(' ')
					}
					sb.WriteByte('.')
					first = false
				}
				continue
			}
			if !first {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r)
			first = false
		}
	}
	return sb.String()
}

// Result maps the game outcome to wire strings. Both values are "unknown"
// while the game is still in progress.
func (b *Board) Result() (result, termination string) {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		result = "white_wins"
	case nchess.BlackWon:
		result = "black_wins"
	case nchess.Draw:
		result = "draw"
	default:
		return "unknown", "unknown"
	}

	switch b.game.Method() {
	case nchess.Checkmate:
		termination = "checkmate"
	case nchess.Stalemate:
		termination = "stalemate"
	case nchess.InsufficientMaterial:
		termination = "insufficient_material"
	case nchess.SeventyFiveMoveRule:
		termination = "seventyfive_moves"
	case nchess.FivefoldRepetition:
		termination = "fivefold_repetition"
	case nchess.FiftyMoveRule:
		termination = "fifty_moves"
	case nchess.ThreefoldRepetition:
		termination = "threefold_repetition"
	default:
		termination = "unknown"
	}
	return result, termination
}
