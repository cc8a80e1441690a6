package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kozaktomas/camflow/internal/imaging"
)

// boilerplatePrefixes are openings vision models like to start with. They are
// matched case-insensitively, longest first.
var boilerplatePrefixes = []string{
	"in this image, we can see",
	"in this image we can see",
	"the image shows",
	"this image shows",
	"the image depicts",
	"this image depicts",
	"the image features",
	"this image features",
	"the photo shows",
	"this photo shows",
	"the picture shows",
	"this picture shows",
	"in this image,",
	"in the image,",
	"in this photo,",
}

func (p *Pipeline) analyze(ctx context.Context, req Request, ref string) (string, error) {
	data, err := p.images.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	resized, err := imaging.ResizeImage(data, p.imageSize)
	if err != nil {
		return "", err
	}

	text, err := req.Generator.Generate(ctx, req.Prompt, [][]byte{resized}, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Generator.Name(), err)
	}
	return CleanAnalysis(text, p.maxChars), nil
}

// CleanAnalysis strips a boilerplate opening, re-capitalizes the remainder
// and truncates it to maxChars runes.
func CleanAnalysis(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimLeft(text[len(prefix):], " ,:;-")
			if rest != "" {
				text = capitalize(rest)
			}
			break
		}
	}
	return truncate(text, maxChars)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// truncate cuts s to at most n runes, preferring the last word boundary.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "…"
}
