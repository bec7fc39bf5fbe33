package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
)

func contextFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "selection-path",
			Usage: "Path of the file the selection comes from",
		},
		&cli.StringFlag{
			Name:  "selection-file",
			Usage: "Read the selected code from `FILE`",
		},
		&cli.BoolFlag{
			Name:  "no-diff",
			Usage: "Leave the PR diff out of the prompt",
		},
		&cli.BoolFlag{
			Name:  "no-meta",
			Usage: "Leave the PR title, description and file list out of the prompt",
		},
		&cli.BoolFlag{
			Name:  "changed-files",
			Usage: "Include the contents of changed files",
		},
	}
}

// pageFromFlags builds the page and include flags shared by context and ask.
func pageFromFlags(c *cli.Context, prURL string) (prcontext.Page, prcontext.Include, error) {
	if !providers.IsPRURL(prURL) {
		return prcontext.Page{}, prcontext.Include{}, fmt.Errorf("not a pull request URL: %s", prURL)
	}
	page := prcontext.Page{URL: prURL, SelectionPath: c.String("selection-path")}
	if name := c.String("selection-file"); name != "" {
		data, err := os.ReadFile(name)
		if err != nil {
			return page, prcontext.Include{}, fmt.Errorf("failed to read selection: %w", err)
		}
		page.Selection = string(data)
	}

	include := prcontext.DefaultInclude()
	include.Diff = !c.Bool("no-diff")
	include.PRMeta = !c.Bool("no-meta")
	include.ChangedFiles = c.Bool("changed-files")
	return page, include, nil
}

// ContextCommand prints the prompt a question would be sent with.
func ContextCommand() *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Assemble and print the context for a pull request",
		ArgsUsage: "PR_URL",
		Flags: append(contextFlags(),
			&cli.StringFlag{
				Name:    "question",
				Aliases: []string{"q"},
				Usage:   "Question used to pick repository-wide search terms",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print status, terms and prompt as JSON",
			},
		),
		Action: runContext,
	}
}

func runContext(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing required argument: PR URL")
	}
	page, include, err := pageFromFlags(c, c.Args().Get(0))
	if err != nil {
		return err
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	question := c.String("question")
	a := rt.assembler()
	a.EnsureAll(c.Context, question, page, include)
	status := a.Status()
	prompt := a.BuildPrompt(question, page, include)

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"status": status,
			"terms":  a.Terms(question, page, include),
			"prompt": prompt,
		})
	}

	fmt.Fprintf(c.App.ErrWriter, "%s\n\n", status)
	fmt.Fprintln(c.App.Writer, prompt)
	return nil
}
