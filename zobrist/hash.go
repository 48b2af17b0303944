package zobrist

import (
	"lukechampine.com/frand"
)

const bignum = 1<<63 - 2

// NumPieceCodes is the number of nonzero piece codes a square may hold.
const NumPieceCodes = 12

// Castling right bits.
const (
	WhiteKingSide uint8 = 1 << iota
	WhiteQueenSide
	BlackKingSide
	BlackQueenSide
)

// NoEnPassant is passed to Hash when there is no en-passant file.
const NoEnPassant = -1

// generate a zobrist hash for a chess position.
// https://en.wikipedia.org/wiki/Zobrist_hashing
type Zobrist struct {
	blackToMove uint64

	posTable      [64][NumPieceCodes]uint64
	castlingTable [16]uint64
	epTable       [8]uint64
}

// New returns an initialized Zobrist table set.
func New() *Zobrist {
	z := &Zobrist{}
	z.Initialize()
	return z
}

func (z *Zobrist) Initialize() {
	for i := 0; i < 64; i++ {
		for j := 0; j < NumPieceCodes; j++ {
			z.posTable[i][j] = frand.Uint64n(bignum) + 1
		}
	}
	// castlingTable[0] stays zero so that "no rights" does not perturb the key.
	for i := 1; i < 16; i++ {
		z.castlingTable[i] = frand.Uint64n(bignum) + 1
	}
	for i := 0; i < 8; i++ {
		z.epTable[i] = frand.Uint64n(bignum) + 1
	}
	z.blackToMove = frand.Uint64n(bignum) + 1
}

// Hash computes the key of a position. squares holds a piece code per
// square (0 for empty, 1..12 otherwise), castling is a mask of the castling
// right bits and epFile is the en-passant file (0-7) or NoEnPassant.
func (z *Zobrist) Hash(squares *[64]uint8, whiteToMove bool, castling uint8, epFile int) uint64 {
	key := uint64(0)
	for i, code := range squares {
		if code == 0 {
			continue
		}
		key ^= z.posTable[i][code-1]
	}
	if !whiteToMove {
		key ^= z.blackToMove
	}
	key ^= z.castlingTable[castling&0x0F]
	if epFile >= 0 && epFile < 8 {
		key ^= z.epTable[epFile]
	}
	return key
}

// Toggle adds or removes a piece from a square.
func (z *Zobrist) Toggle(key uint64, code uint8, sq int) uint64 {
	return key ^ z.posTable[sq][code-1]
}

// FlipSide toggles the side to move.
func (z *Zobrist) FlipSide(key uint64) uint64 {
	return key ^ z.blackToMove
}

// UpdateCastling swaps the castling rights folded into key.
func (z *Zobrist) UpdateCastling(key uint64, from, to uint8) uint64 {
	return key ^ z.castlingTable[from&0x0F] ^ z.castlingTable[to&0x0F]
}

// UpdateEnPassant swaps the en-passant file folded into key. Either file may
// be NoEnPassant.
func (z *Zobrist) UpdateEnPassant(key uint64, from, to int) uint64 {
	if from >= 0 && from < 8 {
		key ^= z.epTable[from]
	}
	if to >= 0 && to < 8 {
		key ^= z.epTable[to]
	}
	return key
}
