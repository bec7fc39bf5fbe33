package diagram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Renderer turns mermaid source into SVG.
type Renderer interface {
	Render(ctx context.Context, code string) (string, error)
}

// ErrEmptyDiagram is returned for blank mermaid source.
var ErrEmptyDiagram = errors.New("mermaid code is empty")

// CachingRenderer memoizes successful renders by source.
type CachingRenderer struct {
	next  Renderer
	cache *lru.Cache[string, string]
}

func NewCachingRenderer(next Renderer, size int) (*CachingRenderer, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagram cache: %w", err)
	}
	return &CachingRenderer{next: next, cache: cache}, nil
}

func (r *CachingRenderer) Render(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyDiagram
	}
	if svg, ok := r.cache.Get(code); ok {
		return svg, nil
	}
	svg, err := r.next.Render(ctx, code)
	if err != nil {
		return "", err
	}
	r.cache.Add(code, svg)
	return svg, nil
}

// CLIRenderer runs mermaid-cli (mmdc) in a temporary directory.
type CLIRenderer struct {
	Command string // defaults to "mmdc"
	Args    []string
}

// runMermaidCLI is injectable in tests.
var runMermaidCLI = func(ctx context.Context, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r CLIRenderer) Render(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyDiagram
	}
	command := r.Command
	if command == "" {
		command = "mmdc"
	}

	dir, err := os.MkdirTemp("", "reviewmate-mermaid-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "diagram.mmd")
	out := filepath.Join(dir, "diagram.svg")
	if err := os.WriteFile(in, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("failed to write diagram source: %w", err)
	}

	args := append([]string{"-i", in, "-o", out}, r.Args...)
	if err := runMermaidCLI(ctx, command, args...); err != nil {
		return "", err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("failed to read rendered diagram: %w", err)
	}
	svg := SanitizeSVG(string(data))
	if strings.TrimSpace(svg) == "" {
		return "", errors.New("mermaid render produced no output")
	}
	log.Debug().Int("source_chars", len(code)).Int("svg_chars", len(svg)).Msg("Rendered mermaid diagram")
	return svg, nil
}
