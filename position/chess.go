package position

import (
	"fmt"
	"sync"

	"github.com/notnil/chess"

	"github.com/domino14/gambit/zobrist"
)

var (
	keysOnce sync.Once
	keys     *zobrist.Zobrist
)

// ZobristKeys returns the process-wide keys used for chess fingerprints.
func ZobristKeys() *zobrist.Zobrist {
	keysOnce.Do(func() {
		keys = zobrist.New()
	})
	return keys
}

type chessMove struct {
	m *chess.Move
}

func (m chessMove) String() string {
	return m.m.String()
}

// Chess adapts a notnil/chess position. Legal moves, status and placement
// are computed when the value is built; afterwards it is read-only and safe
// to share between goroutines.
type Chess struct {
	pos     *chess.Position
	moves   []Move
	outcome Outcome
	squares [64]Piece

	castling uint8
	ep       int
	fp       uint64
}

// StartingPosition returns the standard initial position.
func StartingPosition() *Chess {
	return newChess(chess.NewGame().Position(), nil)
}

// FromFEN parses a position in Forsyth-Edwards notation.
func FromFEN(fen string) (*Chess, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("bad fen %q: %w", fen, err)
	}
	return newChess(chess.NewGame(opt).Position(), nil), nil
}

// newChess builds the adapter for p. When parent is the position p was
// reached from, the fingerprint is updated from the parent's instead of
// hashed from scratch.
func newChess(p *chess.Position, parent *Chess) *Chess {
	c := &Chess{pos: p}
	valid := p.ValidMoves()
	c.moves = make([]Move, len(valid))
	for i, m := range valid {
		c.moves[i] = chessMove{m: m}
	}
	board := p.Board()
	for sq := 0; sq < 64; sq++ {
		c.squares[sq] = fromChessPiece(board.Piece(chess.Square(sq)))
	}
	switch p.Status() {
	case chess.Checkmate:
		c.outcome = Loss
	case chess.Stalemate:
		c.outcome = Draw
	default:
		if insufficientMaterial(&c.squares) {
			c.outcome = Draw
		}
	}
	c.castling, c.ep = castlingAndEP(p)
	if parent != nil {
		c.fp = c.hashFrom(parent)
	} else {
		c.fp = c.hash()
	}
	return c
}

func fromChessPiece(p chess.Piece) Piece {
	if p == chess.NoPiece {
		return NoPiece
	}
	var kind PieceKind
	switch p.Type() {
	case chess.Pawn:
		kind = Pawn
	case chess.Knight:
		kind = Knight
	case chess.Bishop:
		kind = Bishop
	case chess.Rook:
		kind = Rook
	case chess.Queen:
		kind = Queen
	case chess.King:
		kind = King
	}
	return NewPiece(kind, p.Color() == chess.White)
}

// insufficientMaterial covers the dead positions that cannot be won by
// either side: bare kings, or a single minor piece besides them.
func insufficientMaterial(squares *[64]Piece) bool {
	minors := 0
	for _, p := range squares {
		switch p.Kind() {
		case NoKind, King:
		case Knight, Bishop:
			minors++
		default:
			return false
		}
	}
	return minors <= 1
}

func castlingAndEP(p *chess.Position) (uint8, int) {
	var castling uint8
	cr := p.CastleRights()
	if cr.CanCastle(chess.White, chess.KingSide) {
		castling |= zobrist.WhiteKingSide
	}
	if cr.CanCastle(chess.White, chess.QueenSide) {
		castling |= zobrist.WhiteQueenSide
	}
	if cr.CanCastle(chess.Black, chess.KingSide) {
		castling |= zobrist.BlackKingSide
	}
	if cr.CanCastle(chess.Black, chess.QueenSide) {
		castling |= zobrist.BlackQueenSide
	}
	ep := zobrist.NoEnPassant
	if sq := p.EnPassantSquare(); sq != chess.NoSquare {
		ep = int(sq.File())
	}
	return castling, ep
}

func (c *Chess) hash() uint64 {
	var codes [64]uint8
	for i, p := range c.squares {
		codes[i] = uint8(p)
	}
	return ZobristKeys().Hash(&codes, c.WhiteToMove(), c.castling, c.ep)
}

// hashFrom derives the fingerprint from the parent's by toggling only the
// squares that changed. A move touches at most four squares (castling).
func (c *Chess) hashFrom(parent *Chess) uint64 {
	z := ZobristKeys()
	key := parent.fp
	for sq := 0; sq < 64; sq++ {
		was, now := parent.squares[sq], c.squares[sq]
		if was == now {
			continue
		}
		if was != NoPiece {
			key = z.Toggle(key, uint8(was), sq)
		}
		if now != NoPiece {
			key = z.Toggle(key, uint8(now), sq)
		}
	}
	key = z.UpdateCastling(key, parent.castling, c.castling)
	key = z.UpdateEnPassant(key, parent.ep, c.ep)
	if c.WhiteToMove() != parent.WhiteToMove() {
		key = z.FlipSide(key)
	}
	return key
}

func (c *Chess) LegalMoves() []Move {
	if c.outcome.Terminal() {
		return nil
	}
	return c.moves
}

func (c *Chess) Apply(m Move) (Position, error) {
	cm, ok := m.(chessMove)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a chess move", ErrIllegalMove, m)
	}
	for _, legal := range c.moves {
		lm := legal.(chessMove).m
		if lm == cm.m || (lm.S1() == cm.m.S1() && lm.S2() == cm.m.S2() && lm.Promo() == cm.m.Promo()) {
			return newChess(c.pos.Update(lm), c), nil
		}
	}
	return nil, fmt.Errorf("%w: %v in %v", ErrIllegalMove, m, c)
}

func (c *Chess) Outcome() Outcome {
	return c.outcome
}

func (c *Chess) Fingerprint() uint64 {
	return c.fp
}

func (c *Chess) WhiteToMove() bool {
	return c.pos.Turn() == chess.White
}

func (c *Chess) Squares() [64]Piece {
	return c.squares
}

// String returns the FEN of the position.
func (c *Chess) String() string {
	return c.pos.String()
}

// ParseMove finds the legal move with the given UCI text (e.g. "e2e4",
// "e7e8q").
func ParseMove(p Position, uci string) (Move, error) {
	for _, m := range p.LegalMoves() {
		if m.String() == uci {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}
