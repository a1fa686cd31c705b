package frame

// colorBars are the classic SMPTE-order vertical bars (white, yellow, cyan,
// green, magenta, red, blue, black) in BGR byte order.
var colorBars = [][3]byte{
	{255, 255, 255}, // white
	{0, 255, 255},   // yellow
	{255, 255, 0},   // cyan
	{0, 255, 0},     // green
	{255, 0, 255},   // magenta
	{0, 0, 255},     // red
	{255, 0, 0},     // blue
	{0, 0, 0},       // black
}

// TestPattern renders a deterministic packed-BGR vertical color-bar image at
// the given size, used when the capture producer cannot open its sensor so
// downstream consumers still see a well-defined frame.
func TestPattern(width, height int) []byte {
	out := make([]byte, width*height*3)
	barWidth := width / len(colorBars)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bar := x / barWidth
			if bar >= len(colorBars) {
				bar = len(colorBars) - 1
			}
			c := colorBars[bar]
			di := (y*width + x) * 3
			out[di], out[di+1], out[di+2] = c[0], c[1], c[2]
		}
	}
	return out
}
