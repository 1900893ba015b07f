// Package sokoban implements the Sokoban box-pushing environment: an
// 8x8 room in which the player pushes boxes onto target cells. The
// episode finishes when every box sits on a target.
package sokoban

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goimpala/environment"
)

const (
	// RoomWidth and RoomHeight are the dimensions of a Sokoban room
	RoomWidth  = 8
	RoomHeight = 8

	// NumCells is the number of cells in a room, which is also the
	// length of an observation vector
	NumCells = RoomWidth * RoomHeight
)

// Cell is the state of one room cell. Cell values are the values used
// in problem files.
type Cell uint8

const (
	Empty Cell = iota
	Wall
	Player
	Box
	Target
	PlayerTarget // player standing on a target
	BoxTarget    // box resting on a target
	numCellStates
)

// Rewards of the Sokoban task
const (
	StepReward   = -0.1 // every step
	BoxOnReward  = 1.0  // pushing a box onto a target
	BoxOffReward = -1.0 // pushing a box off a target
	SolvedReward = 10.0 // every box on a target
)

// Direction is one of the four directional actions
type Direction int64

const (
	Up Direction = iota
	Down
	Left
	Right
)

// ID implements environment.Action
func (d Direction) ID() int64 {
	return int64(d)
}

// String implements the Stringer interface
func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "unknown"
}

// delta returns the (x, y) displacement of the Direction
func (d Direction) delta() (int, int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// actionSpace is the four-directional action space
type actionSpace struct{}

// Actions is the action space shared by all Sokoban environments
var Actions environment.ActionSpace = actionSpace{}

func (actionSpace) NumActions() int64 {
	return 4
}

func (actionSpace) FromID(id int64) (environment.Action, error) {
	if id < 0 || id >= 4 {
		return nil, fmt.Errorf("fromid: action id %d out of range [0, 4)", id)
	}
	return Direction(id), nil
}

// Sokoban is one room instance. It is driven by a single agent
// goroutine and is not safe for concurrent use.
type Sokoban struct {
	problems []Board
	states   Board
	rng      *rand.Rand
}

// Board is the cell grid of one room in row-major order
type Board [NumCells]Cell

// At returns the cell at column x, row y
func (b *Board) At(x, y int) Cell {
	return b[y*RoomWidth+x]
}

func (b *Board) set(x, y int, c Cell) {
	b[y*RoomWidth+x] = c
}

// solved reports whether no free box remains
func (b *Board) solved() bool {
	for _, c := range b {
		if c == Box {
			return false
		}
	}
	return true
}

// player returns the player's position
func (b *Board) player() (x, y int, err error) {
	for y := 0; y < RoomHeight; y++ {
		for x := 0; x < RoomWidth; x++ {
			if c := b.At(x, y); c == Player || c == PlayerTarget {
				return x, y, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("player: no player on board")
}

// observation returns the board as a fresh observation vector
func (b *Board) observation() mat.Vector {
	data := make([]float64, NumCells)
	for i, c := range b {
		data[i] = float64(c)
	}
	return mat.NewVecDense(NumCells, data)
}

// Reset starts a new episode on a problem chosen uniformly at random
func (s *Sokoban) Reset() (mat.Vector, error) {
	s.states = s.problems[s.rng.Intn(len(s.problems))]
	return s.states.observation(), nil
}

// Step moves the player in the given direction, pushing a box ahead of
// it if the cell behind the box is free
func (s *Sokoban) Step(action environment.Action) (mat.Vector, float64,
	environment.Status, error) {
	direction, ok := action.(Direction)
	if !ok {
		return nil, 0, environment.Running,
			fmt.Errorf("step: action %T is not a sokoban direction", action)
	}

	playerX, playerY, err := s.states.player()
	if err != nil {
		return nil, 0, environment.Running, fmt.Errorf("step: %v", err)
	}
	diffX, diffY := direction.delta()

	reward := StepReward
	aheadX, aheadY := playerX+diffX, playerY+diffY
	if aheadX < 0 || aheadX >= RoomWidth || aheadY < 0 || aheadY >= RoomHeight {
		return s.states.observation(), reward, environment.Running, nil
	}

	leavePlayerCell := func() {
		if s.states.At(playerX, playerY) == PlayerTarget {
			s.states.set(playerX, playerY, Target)
		} else {
			s.states.set(playerX, playerY, Empty)
		}
	}

	switch s.states.At(aheadX, aheadY) {
	case Empty:
		leavePlayerCell()
		s.states.set(aheadX, aheadY, Player)

	case Target:
		leavePlayerCell()
		s.states.set(aheadX, aheadY, PlayerTarget)

	case Box, BoxTarget:
		behindX, behindY := playerX+diffX*2, playerY+diffY*2
		if behindX < 0 || behindX >= RoomWidth ||
			behindY < 0 || behindY >= RoomHeight {
			return s.states.observation(), reward, environment.Running, nil
		}
		boxOnTarget := s.states.At(aheadX, aheadY) == BoxTarget
		switch s.states.At(behindX, behindY) {
		case Empty:
			s.states.set(behindX, behindY, Box)
			leavePlayerCell()
			if boxOnTarget {
				s.states.set(aheadX, aheadY, PlayerTarget)
				reward += BoxOffReward
			} else {
				s.states.set(aheadX, aheadY, Player)
			}
		case Target:
			s.states.set(behindX, behindY, BoxTarget)
			leavePlayerCell()
			if boxOnTarget {
				s.states.set(aheadX, aheadY, PlayerTarget)
			} else {
				s.states.set(aheadX, aheadY, Player)
				reward += BoxOnReward
			}
		}
	}

	status := environment.Running
	if s.states.solved() {
		reward += SolvedReward
		status = environment.Finished
	}
	return s.states.observation(), reward, status, nil
}

// Factory creates Sokoban instances over a shared problem set and
// implements environment.Factory
type Factory struct {
	mu       sync.Mutex
	problems []Board
	seed     uint64
}

// NewFactory returns a Factory over the given problem set. Each
// instance draws its problems with its own generator, seeded from seed.
func NewFactory(problems []Board, seed uint64) (*Factory, error) {
	if len(problems) == 0 {
		return nil, fmt.Errorf("newfactory: empty problem set")
	}
	for i := range problems {
		if _, _, err := problems[i].player(); err != nil {
			return nil, fmt.Errorf("newfactory: problem %d: %v", i, err)
		}
	}
	return &Factory{problems: problems, seed: seed}, nil
}

// New implements environment.Factory
func (f *Factory) New() (environment.Environment, error) {
	f.mu.Lock()
	seed := f.seed
	f.seed++
	f.mu.Unlock()
	return &Sokoban{
		problems: f.problems,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// ActionSpace implements environment.Factory
func (f *Factory) ActionSpace() environment.ActionSpace {
	return Actions
}

// MakeBatch implements environment.Factory. Each observation becomes a
// row of one-hot cell planes: feature s*NumCells+i is 1 when cell i is
// in state s. Absent observations become zero rows.
func (f *Factory) MakeBatch(observations []mat.Vector) (*tensor.Dense,
	error) {
	features := int(numCellStates) * NumCells
	data := make([]float64, len(observations)*features)
	for row, obs := range observations {
		if obs == nil {
			continue
		}
		if obs.Len() != NumCells {
			return nil, fmt.Errorf("makebatch: observation %d has length "+
				"%d, want %d", row, obs.Len(), NumCells)
		}
		base := row * features
		for i := 0; i < NumCells; i++ {
			state := int(obs.AtVec(i))
			if state < 0 || state >= int(numCellStates) {
				return nil, fmt.Errorf("makebatch: observation %d has "+
					"invalid cell state %d", row, state)
			}
			data[base+state*NumCells+i] = 1
		}
	}
	return tensor.New(
		tensor.WithShape(len(observations), features),
		tensor.WithBacking(data),
	), nil
}

// Features returns the length of a batched observation row
func Features() int {
	return int(numCellStates) * NumCells
}
