package sokoban

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// LoadProblems reads a problem set from a file of whitespace-separated
// cell values, 64 per board, in row-major order. Cell values are the
// Cell constants: 0 empty, 1 wall, 2 player, 3 box, 4 target, 5 player
// on target, 6 box on target.
func LoadProblems(path string) ([]Board, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadproblems: could not open %v: %v", path,
			err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Split(bufio.ScanWords)

	var problems []Board
	var board Board
	i := 0
	for scanner.Scan() {
		value, err := strconv.Atoi(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("loadproblems: bad cell value %q: %v",
				scanner.Text(), err)
		}
		if value < 0 || value >= int(numCellStates) {
			return nil, fmt.Errorf("loadproblems: cell value %d out of "+
				"range [0, %d)", value, numCellStates)
		}
		board[i] = Cell(value)
		i++
		if i == NumCells {
			problems = append(problems, board)
			i = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loadproblems: could not read %v: %v", path,
			err)
	}
	if i != 0 {
		return nil, fmt.Errorf("loadproblems: trailing partial board of %d "+
			"cells", i)
	}
	if len(problems) == 0 {
		return nil, fmt.Errorf("loadproblems: no boards in %v", path)
	}

	log.Printf("load %d problems", len(problems))
	return problems, nil
}

// ParseBoard converts the ASCII form of a single board: '#' wall,
// '@' player, '$' box, '.' target, '+' player on target, '*' box on
// target, ' ' empty. The board must be RoomHeight lines of RoomWidth
// runes.
func ParseBoard(layout string) (Board, error) {
	var board Board
	lines := strings.Split(strings.Trim(layout, "\n"), "\n")
	if len(lines) != RoomHeight {
		return board, fmt.Errorf("parseboard: %d lines, want %d", len(lines),
			RoomHeight)
	}
	for y, line := range lines {
		if len(line) != RoomWidth {
			return board, fmt.Errorf("parseboard: line %d has %d cells, "+
				"want %d", y, len(line), RoomWidth)
		}
		for x, r := range line {
			var cell Cell
			switch r {
			case ' ':
				cell = Empty
			case '#':
				cell = Wall
			case '@':
				cell = Player
			case '$':
				cell = Box
			case '.':
				cell = Target
			case '+':
				cell = PlayerTarget
			case '*':
				cell = BoxTarget
			default:
				return board, fmt.Errorf("parseboard: unknown cell %q at "+
					"(%d, %d)", r, x, y)
			}
			board.set(x, y, cell)
		}
	}
	return board, nil
}

// DefaultProblems returns a small built-in problem set, useful for
// smoke tests and for running without a problem file
func DefaultProblems() []Board {
	layouts := []string{
		"########\n" +
			"#      #\n" +
			"# @$ . #\n" +
			"#      #\n" +
			"#      #\n" +
			"#      #\n" +
			"#      #\n" +
			"########",
		"########\n" +
			"#  .   #\n" +
			"#  $   #\n" +
			"# @$.  #\n" +
			"#      #\n" +
			"#      #\n" +
			"#      #\n" +
			"########",
		"########\n" +
			"#      #\n" +
			"# .$@  #\n" +
			"#      #\n" +
			"#  $   #\n" +
			"#  .   #\n" +
			"#      #\n" +
			"########",
	}

	problems := make([]Board, len(layouts))
	for i, layout := range layouts {
		board, err := ParseBoard(layout)
		if err != nil {
			panic(fmt.Sprintf("defaultproblems: %v", err))
		}
		problems[i] = board
	}
	return problems
}
