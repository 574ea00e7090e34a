package ludo

// Target is the computed destination of a piece for a given dice value.
type Target struct {
	Position int
	State    PieceState
}

// ComputeTarget resolves where a piece of the given color lands with dice
// value d. ok is false when the piece has no legal move for d.
func ComputeTarget(p Piece, color Color, d int) (Target, bool) {
	if d < 1 || d > 6 {
		return Target{}, false
	}

	switch p.State {
	case PieceHome:
		if d != 6 {
			return Target{}, false
		}
		return Target{Position: startCell[color], State: PieceActive}, true

	case PieceActive:
		if p.Position >= FinishStart {
			// Home stretch: exact landing on the last cell finishes.
			newPos := p.Position + d
			if newPos == FinishPosition {
				return Target{Position: newPos, State: PieceFinished}, true
			}
			if newPos < FinishStart+HomeStretchLength {
				return Target{Position: newPos, State: PieceActive}, true
			}
			return Target{}, false
		}

		distToPreHome := (preHomeCell[color] - p.Position + TotalPathLength) % TotalPathLength
		if d > distToPreHome {
			idx := d - distToPreHome - 1
			if idx == HomeStretchLength-1 {
				return Target{Position: FinishStart + idx, State: PieceFinished}, true
			}
			if idx < HomeStretchLength-1 {
				return Target{Position: FinishStart + idx, State: PieceActive}, true
			}
			return Target{}, false
		}
		newPos := (p.Position-1+d)%TotalPathLength + 1
		return Target{Position: newPos, State: PieceActive}, true

	default: // PieceFinished
		return Target{}, false
	}
}

// movablePieces returns the ids of the player's pieces that have a legal
// move for dice value d.
func movablePieces(p *Player, d int) []int {
	var ids []int
	for _, piece := range p.Pieces {
		if _, ok := ComputeTarget(piece, p.Color, d); ok {
			ids = append(ids, piece.ID)
		}
	}
	return ids
}

func allPiecesHome(p *Player) bool {
	for _, piece := range p.Pieces {
		if piece.State != PieceHome {
			return false
		}
	}
	return true
}

func allPiecesFinished(p *Player) bool {
	for _, piece := range p.Pieces {
		if piece.State != PieceFinished {
			return false
		}
	}
	return true
}
