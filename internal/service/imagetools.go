package service

import (
	"image"
	"image/draw"
	"regexp"
	"strings"
)

var promptDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_. ]`)

// sanitizePrompt derives a filesystem-safe object name from a prompt. The
// first comma-delimited segment (usually a style prefix) is dropped when one
// exists, disallowed characters are stripped, spaces become underscores, and
// the result is capped near 100 characters, preferring a word boundary past
// position 80.
func sanitizePrompt(prompt string) string {
	parts := strings.SplitN(prompt, ",", 2)
	if len(parts) > 1 {
		prompt = parts[1]
	}
	prompt = strings.TrimSpace(prompt)

	position := -1
	if len(prompt) > 80 {
		if idx := strings.Index(prompt[80:], " "); idx != -1 {
			position = 80 + idx
		}
	}
	if position > 120 || position == -1 {
		position = 100
	}

	sanitized := promptDisallowed.ReplaceAllString(prompt, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	if len(sanitized) > position {
		sanitized = sanitized[:position]
	}
	return sanitized
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropGrid partitions src into rows x cols sections, row-major. Sections
// share pixels with src when the decoded type supports SubImage; otherwise
// they are copied.
func cropGrid(src image.Image, rows, cols int) []image.Image {
	bounds := src.Bounds()
	width := bounds.Dx() / cols
	height := bounds.Dy() / rows

	sections := make([]image.Image, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			rect := image.Rect(
				bounds.Min.X+col*width,
				bounds.Min.Y+row*height,
				bounds.Min.X+(col+1)*width,
				bounds.Min.Y+(row+1)*height,
			)
			if si, ok := src.(subImager); ok {
				sections = append(sections, si.SubImage(rect))
				continue
			}
			dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
			draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
			sections = append(sections, dst)
		}
	}
	return sections
}
