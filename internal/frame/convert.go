package frame

// ColorConvertMode selects how the capture producer's native pixel layout
// maps onto the canonical packed-BGR frame the rest of the pipeline
// consumes. Mirrors CAMERA_COLOR_CONVERT: auto|none|rgb2bgr|rgba2bgr|
// bgra2bgr|yuv420.
type ColorConvertMode int

const (
	ConvertAuto ColorConvertMode = iota
	ConvertNone
	ConvertRGB2BGR
	ConvertRGBA2BGR
	ConvertBGRA2BGR
	ConvertYUV420
)

func ParseColorConvertMode(s string) ColorConvertMode {
	switch s {
	case "none":
		return ConvertNone
	case "rgb2bgr":
		return ConvertRGB2BGR
	case "rgba2bgr":
		return ConvertRGBA2BGR
	case "bgra2bgr":
		return ConvertBGRA2BGR
	case "yuv420":
		return ConvertYUV420
	default:
		return ConvertAuto
	}
}

// ToBGR applies the mandatory, deterministic pixel conversion rules: 2-plane
// YUV420 -> packed BGR, 4-channel packed -> packed BGR (RGBA-vs-BGRA
// selected by mode), 3-channel packed -> optional R/B swap. swapRB only
// applies to the already-packed 3-channel case; it is a no-op for the
// 4-channel and planar paths since those have an explicit channel order
// baked into the mode itself.
func ToBGR(src []byte, width, height int, mode ColorConvertMode, swapRB bool) ([]byte, error) {
	switch mode {
	case ConvertYUV420:
		return yuv420ToBGR(src, width, height)
	case ConvertRGBA2BGR:
		return packed4ToBGR(src, width, height, true)
	case ConvertBGRA2BGR:
		return packed4ToBGR(src, width, height, false)
	case ConvertRGB2BGR:
		return packed3ToBGR(src, width, height, true)
	case ConvertNone:
		if swapRB {
			return packed3ToBGR(src, width, height, true)
		}
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	default: // auto: infer from source length
		switch len(src) {
		case PlaneSize(width, height, FormatYUV420):
			return yuv420ToBGR(src, width, height)
		case width * height * 4:
			return packed4ToBGR(src, width, height, false)
		default:
			return packed3ToBGR(src, width, height, swapRB)
		}
	}
}

// packed3ToBGR swaps R and B channels in place on a fresh buffer when
// srcIsRGB is true; otherwise it's a straight copy (already BGR).
func packed3ToBGR(src []byte, width, height int, srcIsRGB bool) ([]byte, error) {
	n := width * height * 3
	out := make([]byte, n)
	if !srcIsRGB {
		copy(out, src)
		return out, nil
	}
	for i := 0; i+2 < len(src) && i+2 < n; i += 3 {
		out[i] = src[i+2]
		out[i+1] = src[i+1]
		out[i+2] = src[i]
	}
	return out, nil
}

// packed4ToBGR drops the alpha channel and reorders to BGR. srcIsRGBA
// selects RGBA (R,G,B,A) vs BGRA (B,G,R,A) source channel order.
func packed4ToBGR(src []byte, width, height int, srcIsRGBA bool) ([]byte, error) {
	n := width * height * 3
	out := make([]byte, n)
	di := 0
	for si := 0; si+3 < len(src) && di+2 < n; si += 4 {
		if srcIsRGBA {
			out[di] = src[si+2]   // B
			out[di+1] = src[si+1] // G
			out[di+2] = src[si]   // R
		} else {
			out[di] = src[si]     // B
			out[di+1] = src[si+1] // G
			out[di+2] = src[si+2] // R
		}
		di += 3
	}
	return out, nil
}

// yuv420ToBGR performs BT.601 fixed-point YUV 4:2:0 to packed BGR
// conversion for the planar I420 layout only (Y plane, then a half-res U
// plane, then a half-res V plane). Interleaved-chroma layouts such as
// NV12 are not handled: their chroma bytes are read as if planar. Integer-only
// arithmetic, matching the capture pipeline's preference for avoiding
// float conversion per frame.
func yuv420ToBGR(src []byte, width, height int) ([]byte, error) {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	uOff := ySize
	vOff := ySize + cSize

	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		cy := y / 2
		for x := 0; x < width; x++ {
			cx := x / 2
			yy := int(src[y*width+x])
			cu := int(src[uOff+cy*(width/2)+cx]) - 128
			cv := int(src[vOff+cy*(width/2)+cx]) - 128

			// BT.601 fixed-point (Q10) coefficients.
			r := (1024*yy + 1436*cv) >> 10
			g := (1024*yy - 352*cu - 731*cv) >> 10
			b := (1024*yy + 1814*cu) >> 10

			di := (y*width + x) * 3
			out[di] = clampByte(b)
			out[di+1] = clampByte(g)
			out[di+2] = clampByte(r)
		}
	}
	return out, nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Resize performs an area-weighted (box-filter) downscale/upscale of a
// packed-BGR buffer from (srcW, srcH) to (dstW, dstH), the preferred
// algorithm when the captured frame size differs from the configured
// target.
func Resize(src []byte, srcW, srcH, dstW, dstH int) []byte {
	if srcW == dstW && srcH == dstH {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}
	out := make([]byte, dstW*dstH*3)
	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy0 := int(float64(dy) * yRatio)
		sy1 := int(float64(dy+1) * yRatio)
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		if sy1 > srcH {
			sy1 = srcH
		}
		for dx := 0; dx < dstW; dx++ {
			sx0 := int(float64(dx) * xRatio)
			sx1 := int(float64(dx+1) * xRatio)
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}
			if sx1 > srcW {
				sx1 = srcW
			}

			var rSum, gSum, bSum, count int
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					si := (sy*srcW + sx) * 3
					bSum += int(src[si])
					gSum += int(src[si+1])
					rSum += int(src[si+2])
					count++
				}
			}
			if count == 0 {
				count = 1
			}
			di := (dy*dstW + dx) * 3
			out[di] = byte(bSum / count)
			out[di+1] = byte(gSum / count)
			out[di+2] = byte(rSum / count)
		}
	}
	return out
}
