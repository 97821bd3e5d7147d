package local

// Backend names.
const (
	GifsicleName = "Gifsicle"
	JpegTranName = "JpegTran"
	PngOutName   = "PngOut"
)

// NewGifsicle returns the gifsicle backend for GIF files.
func NewGifsicle() *Tool {
	return NewTool(GifsicleName, "GIFSICLE", []string{".gif"}, []string{"gifsicle"},
		func(src, out string) []string {
			return []string{
				"--crop-transparency",
				"--no-comments",
				"--no-extensions",
				"--no-names",
				"--optimize=3",
				"--batch", src,
				"--output", out,
			}
		})
}

// NewJpegTran returns the jpegtran backend for JPEG files.
func NewJpegTran() *Tool {
	return NewTool(JpegTranName, "JPEGTRAN", []string{".jpg", ".jpeg"}, []string{"jpegtran"},
		func(src, out string) []string {
			return []string{"-copy", "none", "-optimize", "-progressive", "-outfile", out, src}
		})
}

// NewPngOut returns the pngout backend for PNG files. Exit code 2 means
// pngout could not compress further.
func NewPngOut() *Tool {
	t := NewTool(PngOutName, "PNGOUT", []string{".png"}, []string{"pngout", "png.cmd"},
		func(src, out string) []string {
			return []string{src, out, "-y"}
		})
	t.noGain = []int{2}
	return t
}
