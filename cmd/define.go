package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/definition"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/terms"
)

// DefineCommand looks up where an identifier is declared at the pull
// request's head revision.
func DefineCommand() *cli.Command {
	return &cli.Command{
		Name:      "define",
		Usage:     "Find the definition of an identifier in a pull request's head revision",
		ArgsUsage: "PR_URL IDENTIFIER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Only look in `PATH` instead of searching the repository",
			},
		},
		Action: runDefine,
	}
}

func runDefine(c *cli.Context) error {
	if c.NArg() < 2 {
		return errors.New("usage: define PR_URL IDENTIFIER")
	}
	prURL := c.Args().Get(0)
	if !providers.IsPRURL(prURL) {
		return fmt.Errorf("not a pull request URL: %s", prURL)
	}
	ident := terms.IdentifierFromSelection(c.Args().Get(1))
	if ident == "" {
		return fmt.Errorf("could not extract an identifier from %q", c.Args().Get(1))
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	a := rt.assembler()
	a.EnsureMetadata(c.Context, prcontext.Page{URL: prURL})
	if msg := a.Context().MetaErr; msg != "" {
		return fmt.Errorf("failed to load pull request: %s", msg)
	}

	res, err := definition.NewLocator(rt.host).ForPullRequest(c.Context, a.Context().PR, ident, c.String("file"))
	if err != nil {
		return fmt.Errorf("definition lookup failed: %w", err)
	}
	fmt.Fprintln(c.App.Writer, res.Format())
	return nil
}
