package battle

import (
	"fmt"
	"strconv"
	"strings"
)

// GridSize is the width and height of the arena in axial units.
const GridSize = 12

// Hex is a position on the arena in cube coordinates (q + r + s == 0).
type Hex struct {
	Q int `json:"q"`
	R int `json:"r"`
	S int `json:"s"`
}

// NewHex builds a cube coordinate from its axial (q, r) pair.
func NewHex(q, r int) Hex {
	return Hex{Q: q, R: r, S: -q - r}
}

// Valid reports whether the three components satisfy the cube constraint.
func (h Hex) Valid() bool {
	return h.Q+h.R+h.S == 0
}

func (h Hex) String() string {
	return fmt.Sprintf("%d,%d", h.Q, h.R)
}

// ParseHex parses the "q,r" form produced by String.
func ParseHex(s string) (Hex, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Hex{}, fmt.Errorf("hex %q: expected q,r", s)
	}
	q, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Hex{}, fmt.Errorf("hex %q: %w", s, err)
	}
	r, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Hex{}, fmt.Errorf("hex %q: %w", s, err)
	}
	return NewHex(q, r), nil
}

// Distance returns the number of hex steps between a and b.
func Distance(a, b Hex) int {
	return (abs(a.Q-b.Q) + abs(a.R-b.R) + abs(a.S-b.S)) / 2
}

// InBounds reports whether h is a valid cube coordinate inside the arena.
func InBounds(h Hex) bool {
	return h.Valid() && h.Q >= 0 && h.Q < GridSize && h.R >= 0 && h.R < GridSize
}

var hexDirections = [6]Hex{
	{1, 0, -1}, {1, -1, 0}, {0, -1, 1},
	{-1, 0, 1}, {-1, 1, 0}, {0, 1, -1},
}

// Neighbors returns the six adjacent hexes in a fixed order, including
// ones outside the arena.
func (h Hex) Neighbors() []Hex {
	out := make([]Hex, 0, len(hexDirections))
	for _, d := range hexDirections {
		out = append(out, Hex{h.Q + d.Q, h.R + d.R, h.S + d.S})
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
