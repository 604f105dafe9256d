package position

import "errors"

var ErrUnknownArenaType = errors.New("unknown arena type")

type ArenaType string

const (
	ArenaStandard ArenaType = "standard"
	ArenaOlympic  ArenaType = "olympic"
	ArenaPractice ArenaType = "practice"
)

type Position string

const (
	CenterIceElevated Position = "center_ice_elevated"
	CornerDiagonal1   Position = "corner_diagonal_1"
	CornerDiagonal2   Position = "corner_diagonal_2"
	BenchSide         Position = "bench_side"
	GoalLineHome      Position = "goal_line_home"
	GoalLineAway      Position = "goal_line_away"
	NeutralZoneHigh   Position = "neutral_zone_high"
	PenaltyBoxSide    Position = "penalty_box_side"
)

// Plan is the prioritized vantage list resolved for one session. Assignment is
// first-come-first-served over the slice order.
type Plan struct {
	Arena     ArenaType
	Positions []Position
}

// priority tables per arena. Order matters: earlier slots are filled first.
var catalog = map[ArenaType][]Position{
	ArenaStandard: {
		CenterIceElevated,
		CornerDiagonal1,
		CornerDiagonal2,
		BenchSide,
		GoalLineHome,
		GoalLineAway,
	},
	ArenaOlympic: {
		CenterIceElevated,
		NeutralZoneHigh,
		CornerDiagonal1,
		CornerDiagonal2,
		GoalLineHome,
		GoalLineAway,
	},
	ArenaPractice: {
		CenterIceElevated,
		BenchSide,
		CornerDiagonal1,
		PenaltyBoxSide,
	},
}

// ArenaDescription is the human-readable catalog entry exposed on the arena
// listing endpoint.
type ArenaDescription struct {
	Name        ArenaType `json:"name"`
	Description string    `json:"description"`
	MaxCameras  int       `json:"max_cameras"`
}

var descriptions = map[ArenaType]string{
	ArenaStandard: "Standard NHL size rink",
	ArenaOlympic:  "Olympic size rink",
	ArenaPractice: "Practice rink",
}

// ResolvePlan returns the prioritized position list for an arena and camera
// count. Counts above the table size are clamped to the table size rather than
// rejected, so an oversized party still gets every configured vantage filled.
func ResolvePlan(arena ArenaType, count int) (Plan, error) {
	table, ok := catalog[arena]
	if !ok {
		return Plan{}, ErrUnknownArenaType
	}
	if count > len(table) {
		count = len(table)
	}
	if count < 1 {
		count = 1
	}
	positions := make([]Position, count)
	copy(positions, table[:count])
	return Plan{Arena: arena, Positions: positions}, nil
}

// Arenas lists the configured arena types.
func Arenas() []ArenaDescription {
	out := make([]ArenaDescription, 0, len(catalog))
	for _, a := range []ArenaType{ArenaStandard, ArenaOlympic, ArenaPractice} {
		out = append(out, ArenaDescription{
			Name:        a,
			Description: descriptions[a],
			MaxCameras:  len(catalog[a]),
		})
	}
	return out
}

// MaxCount returns the largest configured camera count for an arena.
func MaxCount(arena ArenaType) (int, error) {
	table, ok := catalog[arena]
	if !ok {
		return 0, ErrUnknownArenaType
	}
	return len(table), nil
}

// ParseArena normalizes and validates an arena type string.
func ParseArena(s string) (ArenaType, error) {
	a := ArenaType(s)
	if _, ok := catalog[a]; !ok {
		return "", ErrUnknownArenaType
	}
	return a, nil
}
