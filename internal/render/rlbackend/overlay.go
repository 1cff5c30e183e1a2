package rlbackend

import (
	"fmt"

	rl "github.com/gen2brain/raylib-go/raylib"

	"linux-shaderpaper/internal/display"
)

// overlay outlines every display and prints its annotation and the window
// frame rate.
type overlay struct {
	fontHeight int32
	notes      map[display.ID]string
}

func newOverlay() *overlay {
	return &overlay{fontHeight: 18, notes: make(map[display.ID]string)}
}

func (o *overlay) annotate(id display.ID, text string) {
	o.notes[id] = text
}

func (o *overlay) draw(surfaces []*surface, bounds display.Geometry) {
	boxCol := rl.NewColor(0, 255, 0, 255)
	textBg := rl.NewColor(0, 0, 0, 160)

	for _, s := range surfaces {
		x := int32(s.geometry.X - bounds.X)
		y := int32(s.geometry.Y - bounds.Y)
		w, h := int32(s.geometry.Width), int32(s.geometry.Height)

		rl.DrawRectangleLines(x+1, y+1, w-2, h-2, boxCol)

		label := fmt.Sprintf("%s %s", s.id, s.geometry)
		if note := o.notes[s.id]; note != "" {
			label += "  " + note
		}
		tw := rl.MeasureText(label, o.fontHeight)
		rl.DrawRectangle(x+8, y+8, tw+12, o.fontHeight+8, textBg)
		rl.DrawText(label, x+14, y+12, o.fontHeight, rl.White)
	}
	rl.DrawFPS(8, int32(bounds.Height)-28)
}
