// Package position describes the board capability the search consumes.
// Search code only ever talks to the Position interface; Chess is the
// notnil/chess backed implementation used by the binaries.
package position

import "errors"

var (
	// ErrIllegalMove is returned by Apply when the move is not legal in the
	// position. Search treats it as fatal.
	ErrIllegalMove = errors.New("illegal move")
)

// Outcome of a position, relative to the side to move.
type Outcome int

const (
	Ongoing Outcome = iota
	Win
	Loss
	Draw
)

func (o Outcome) String() string {
	switch o {
	case Ongoing:
		return "ongoing"
	case Win:
		return "win"
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	}
	return "unknown"
}

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool {
	return o != Ongoing
}

type Move interface {
	String() string
}

// Position is an immutable game state. Apply returns a new position and
// never modifies the receiver, so positions may be shared between
// goroutines.
type Position interface {
	LegalMoves() []Move
	Apply(m Move) (Position, error)
	Outcome() Outcome
	// Fingerprint identifies the position; equal fingerprints are assumed to
	// be equal positions.
	Fingerprint() uint64
	WhiteToMove() bool
	String() string
}

// Piece is a colored piece, or NoPiece. White pieces come first.
type Piece uint8

const (
	NoPiece Piece = iota
	WhitePawn
	WhiteKnight
	WhiteBishop
	WhiteRook
	WhiteQueen
	WhiteKing
	BlackPawn
	BlackKnight
	BlackBishop
	BlackRook
	BlackQueen
	BlackKing
)

// NumPieces is the number of distinct colored pieces.
const NumPieces = 12

type PieceKind uint8

const (
	NoKind PieceKind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func NewPiece(kind PieceKind, white bool) Piece {
	if kind == NoKind {
		return NoPiece
	}
	if white {
		return Piece(kind)
	}
	return Piece(kind) + 6
}

func (p Piece) Kind() PieceKind {
	if p == NoPiece {
		return NoKind
	}
	if p > WhiteKing {
		return PieceKind(p - 6)
	}
	return PieceKind(p)
}

func (p Piece) White() bool {
	return p != NoPiece && p <= WhiteKing
}

// Placement is implemented by positions that expose their piece placement.
// Squares are indexed a1=0, b1=1, ... h8=63.
type Placement interface {
	Squares() [64]Piece
}
