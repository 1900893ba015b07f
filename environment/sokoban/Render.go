package sokoban

import (
	"fmt"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/mat"
)

// cellPixels is the drawn size of one room cell
const cellPixels = 32

// Render draws an observation as a PNG image at path. Targets are drawn
// under players and boxes so occupied targets stay visible.
func Render(obs mat.Vector, path string) error {
	if obs.Len() != NumCells {
		return fmt.Errorf("render: observation has length %d, want %d",
			obs.Len(), NumCells)
	}

	dc := gg.NewContext(RoomWidth*cellPixels, RoomHeight*cellPixels)
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.Clear()

	for y := 0; y < RoomHeight; y++ {
		for x := 0; x < RoomWidth; x++ {
			cell := Cell(obs.AtVec(y*RoomWidth + x))
			px := float64(x * cellPixels)
			py := float64(y * cellPixels)
			cx := px + cellPixels/2
			cy := py + cellPixels/2

			switch cell {
			case Wall:
				dc.SetRGB(0.5, 0.5, 0.5)
				dc.DrawRectangle(px, py, cellPixels, cellPixels)
				dc.Fill()

			case Target, PlayerTarget, BoxTarget:
				dc.SetRGB(0.9, 0.2, 0.2)
				dc.DrawCircle(cx, cy, cellPixels/3)
				dc.Fill()
			}

			switch cell {
			case Player, PlayerTarget:
				dc.SetRGB(0.2, 0.6, 0.9)
				dc.DrawCircle(cx, cy, cellPixels/4)
				dc.Fill()

			case Box:
				dc.SetRGB(0.8, 0.6, 0.2)
				dc.DrawRectangle(px+4, py+4, cellPixels-8, cellPixels-8)
				dc.Fill()

			case BoxTarget:
				dc.SetRGB(0.4, 0.8, 0.3)
				dc.DrawRectangle(px+4, py+4, cellPixels-8, cellPixels-8)
				dc.Fill()
			}
		}
	}

	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("render: could not save %v: %v", path, err)
	}
	return nil
}
