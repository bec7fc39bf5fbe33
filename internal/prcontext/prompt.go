package prcontext

import (
	"fmt"
	"strings"

	"github.com/reviewmate/internal/textlimit"
)

// Placeholders printed in place of a missing section. Each condition has its
// own wording so the model can tell them apart.
const (
	DiffNotLoaded        = "PR diff has not been loaded yet."
	DiffFailedPrefix     = "PR diff could not be loaded: "
	RawFilesNotLoaded    = "Changed file contents have not been loaded yet."
	RawFilesFailedPrefix = "Changed file contents could not be loaded: "
	RepoWideNotLoaded    = "Repository-wide context has not been loaded yet."
	RepoWideFailedPrefix = "Repository-wide search could not be loaded: "
	ContextErrorPrefix   = "(context error) "
	QuestionHeader       = "Question/request:"
	truncatedBodySuffix  = "[...truncated PR body]"
	truncatedTag         = " (truncated)"
)

func fence(b *[]string, lang, text string) {
	*b = append(*b, "```"+lang, text, "```")
}

func (a *Assembler) selectionLines(page Page, include Include) []string {
	var out []string
	if !include.Selection || page.Selection == "" {
		return out
	}
	if page.SelectionPath != "" {
		out = append(out, "Selected file: "+page.SelectionPath)
	}
	clipped, _ := textlimit.Truncate(page.Selection, a.limits.MaxSelectionChars)
	out = append(out, "Selected code:")
	fence(&out, "", clipped)
	return out
}

// BuildPrompt composes the model-facing message from the loaded context. The
// section order is fixed: page URL, PR metadata, selection, diff, changed
// file bodies, repository-wide results, context error, question.
func (a *Assembler) BuildPrompt(userText string, page Page, include Include) string {
	c := &a.ctx
	var b []string
	b = append(b, "GitHub PR URL: "+page.URL)

	if include.PRMeta && c.PR != nil {
		pr := c.PR
		b = append(b, "PR title: "+pr.Title)
		b = append(b, fmt.Sprintf("base: %s  head: %s", pr.BaseRef, pr.HeadRef))
		if pr.HeadRepository != "" {
			b = append(b, "head repo: "+pr.HeadRepository)
		}
		if pr.Body != "" {
			b = append(b, "PR description:", pr.Body)
			if pr.BodyTruncated {
				b = append(b, truncatedBodySuffix)
			}
		}
		if len(pr.Files) > 0 {
			listed := pr.Files
			if len(listed) > a.limits.MaxChangedFileCountInList {
				listed = listed[:a.limits.MaxChangedFileCountInList]
			}
			total := pr.TotalFiles
			if total == 0 {
				total = len(pr.Files)
			}
			b = append(b, fmt.Sprintf("Changed files (%d):", total))
			lines := make([]string, len(listed))
			for i, p := range listed {
				lines[i] = "- " + p
			}
			b = append(b, strings.Join(lines, "\n"))
			if len(pr.Files) > len(listed) {
				b = append(b, fmt.Sprintf("[...and %d more]", len(pr.Files)-len(listed)))
			}
		}
	}

	b = append(b, a.selectionLines(page, include)...)

	if include.Diff {
		switch {
		case c.DiffLoaded:
			header := "PR diff:"
			if c.DiffTruncated {
				header = "PR diff (truncated):"
			}
			b = append(b, header)
			fence(&b, "diff", c.Diff)
		case c.DiffErr != "":
			b = append(b, DiffFailedPrefix+c.DiffErr)
		default:
			b = append(b, DiffNotLoaded)
		}
	}

	if include.ChangedFiles {
		switch {
		case len(c.RawFiles) > 0:
			b = append(b, fmt.Sprintf("Changed file contents (up to %d files, %d chars per file, %d chars total)",
				a.limits.MaxRawFiles, a.limits.MaxRawFileChars, a.limits.MaxTotalRawChars))
			for _, f := range c.RawFiles {
				b = append(b, "File: "+f.Path+truncatedSuffix(f.Truncated))
				fence(&b, "", f.Text)
				b = append(b, "raw: "+f.URL)
			}
		case c.RawErr != "":
			b = append(b, RawFilesFailedPrefix+c.RawErr)
		default:
			b = append(b, RawFilesNotLoaded)
		}
	}

	switch {
	case len(c.RepoWideFiles) > 0:
		termList := strings.Join(c.RepoWideTerms, ", ")
		if termList == "" {
			termList = "n/a"
		}
		b = append(b, fmt.Sprintf("Repository-wide context (auto, terms: %s, up to %d files, %d chars per file, %d chars total)",
			termList, a.limits.MaxRepoWideFiles, a.limits.MaxRepoWideFileChars, a.limits.MaxRepoWideTotalChars))
		for _, f := range c.RepoWideFiles {
			var tags []string
			if f.Changed {
				tags = append(tags, "changed-file")
			}
			if f.Term != "" {
				tags = append(tags, "match:"+f.Term)
			}
			tagText := ""
			if len(tags) > 0 {
				tagText = " [" + strings.Join(tags, ", ") + "]"
			}
			b = append(b, "File: "+f.Path+tagText+truncatedSuffix(f.Truncated))
			fence(&b, "", f.Text)
			b = append(b, "raw: "+f.URL)
		}
	case c.RepoWideErr != "":
		b = append(b, RepoWideFailedPrefix+c.RepoWideErr)
	default:
		b = append(b, RepoWideNotLoaded)
	}

	if c.Err != "" {
		b = append(b, ContextErrorPrefix+c.Err)
	}

	b = append(b, QuestionHeader, userText)
	return strings.Join(b, "\n")
}

// BuildCompact is the short form kept in the conversation log: page URL,
// selection and question only.
func (a *Assembler) BuildCompact(userText string, page Page, include Include) string {
	b := []string{"GitHub PR URL: " + page.URL}
	b = append(b, a.selectionLines(page, include)...)
	b = append(b, QuestionHeader, userText)
	return strings.Join(b, "\n")
}

func truncatedSuffix(truncated bool) string {
	if truncated {
		return truncatedTag
	}
	return ""
}
