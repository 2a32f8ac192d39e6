package capture

import "github.com/kbinani/screenshot"

// Display describes one attached display in virtual-screen coordinates.
type Display struct {
	Index  int `json:"index" yaml:"index"`
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Primary reports whether the display anchors the virtual screen origin.
func (d Display) Primary() bool {
	return d.X == 0 && d.Y == 0
}

// ListDisplays enumerates attached displays. Index matches the
// DisplayIndex accepted by Config.
func ListDisplays() []Display {
	n := screenshot.NumActiveDisplays()
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		displays = append(displays, Display{
			Index:  i,
			X:      b.Min.X,
			Y:      b.Min.Y,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return displays
}
