package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/chat"
	"github.com/reviewmate/internal/diagram"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/relay"
)

// AskCommand asks the model a question about a pull request and streams the
// answer.
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a question about a pull request",
		ArgsUsage: "PR_URL [QUESTION]",
		Flags: append(contextFlags(),
			&cli.BoolFlag{
				Name:  "diagram",
				Usage: "Ask for a mermaid diagram of the changes",
			},
			&cli.StringFlag{
				Name:  "render-dir",
				Usage: "Render mermaid blocks of the answer as SVG files into `DIR`",
			},
			&cli.BoolFlag{
				Name:  "new",
				Usage: "Start a new conversation instead of continuing the stored one",
			},
		),
		Action: runAsk,
	}
}

func runAsk(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing required argument: PR URL")
	}
	prURL := c.Args().Get(0)
	question := c.Args().Get(1)
	if c.Bool("diagram") && question == "" {
		question = diagram.RequestPrompt
	}
	if question == "" {
		return errors.New("missing required argument: QUESTION")
	}
	page, include, err := pageFromFlags(c, prURL)
	if err != nil {
		return err
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	ctrl := chat.NewController(providers.ConversationKey(prURL), rt.assembler(), rt.store, rt.settings())
	if c.Bool("new") {
		if err := ctrl.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear conversation: %w", err)
		}
	} else if err := ctrl.Load(ctx); err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	req, err := ctrl.Send(ctx, question, page, include)
	if err != nil {
		if apperr.IsKind(err, apperr.KindConfigMissing) {
			fmt.Fprintln(c.App.ErrWriter, chat.MissingKeyHint)
		}
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "%s\n\n", ctrl.Assembler().Status())

	answer, err := streamAnswer(ctx, relay.New(rt.settings()), ctrl, req, c.App.Writer)
	fmt.Fprintln(c.App.Writer)
	if err != nil {
		return err
	}

	if dir := c.String("render-dir"); dir != "" {
		return renderDiagrams(context.WithoutCancel(ctx), rt.renderer, answer, dir, c.App.ErrWriter)
	}
	return nil
}

// streamAnswer runs req through the relay, feeding every event to ctrl and
// printing deltas as they arrive. It returns the full answer.
func streamAnswer(ctx context.Context, rl *relay.Relay, ctrl *chat.Controller, req *relay.Inbound, w io.Writer) (string, error) {
	inbound := make(chan relay.Inbound, 1)
	inbound <- *req
	idx := ctrl.Streaming().AssistantIndex

	var failure string
	err := rl.Serve(ctx, inbound, func(evt relay.Outbound) {
		if !ctrl.HandleEvent(ctx, evt) {
			return
		}
		switch evt.Type {
		case relay.TypeDelta:
			fmt.Fprint(w, evt.Delta)
		case relay.TypeError:
			failure = evt.ErrorMessage()
		}
		if evt.Terminal() {
			close(inbound)
		}
	})

	if err != nil && ctrl.Streaming() != nil {
		// interrupted: keep the partial answer
		ctrl.Abort(context.WithoutCancel(ctx))
		return "", fmt.Errorf("request aborted: %w", err)
	}
	if failure != "" {
		return "", fmt.Errorf("model request failed: %s", failure)
	}
	return ctrl.Messages()[idx].Content, nil
}

func renderDiagrams(ctx context.Context, renderer diagram.Renderer, answer, dir string, w io.Writer) error {
	blocks := diagram.ExtractMermaidBlocks(answer)
	if len(blocks) == 0 {
		return nil
	}
	if renderer == nil {
		return errors.New("diagram rendering is not configured (diagram.command)")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for i, code := range blocks {
		svg, err := renderer.Render(ctx, code)
		if err != nil {
			log.Warn().Err(err).Int("diagram", i+1).Msg("Mermaid render failed")
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("diagram-%d.svg", i+1))
		if err := os.WriteFile(name, []byte(svg), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		fmt.Fprintf(w, "wrote %s\n", name)
	}
	return nil
}
