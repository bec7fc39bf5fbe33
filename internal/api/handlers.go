package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/conversation"
	"github.com/reviewmate/internal/definition"
	"github.com/reviewmate/internal/diagram"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/terms"
)

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

type includeRequest struct {
	Selection    *bool `json:"selection"`
	PRMeta       *bool `json:"prMeta"`
	Diff         *bool `json:"diff"`
	ChangedFiles *bool `json:"changedFiles"`
}

// resolve applies the flags that were sent over the defaults.
func (r *includeRequest) resolve() prcontext.Include {
	inc := prcontext.DefaultInclude()
	if r == nil {
		return inc
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&inc.Selection, r.Selection)
	set(&inc.PRMeta, r.PRMeta)
	set(&inc.Diff, r.Diff)
	set(&inc.ChangedFiles, r.ChangedFiles)
	return inc
}

type contextRequest struct {
	PageURL       string          `json:"pageUrl"`
	UserText      string          `json:"userText"`
	Selection     string          `json:"selection"`
	SelectionPath string          `json:"selectionPath"`
	Include       *includeRequest `json:"include"`
}

type contextResponse struct {
	Prompt  string           `json:"prompt"`
	Compact string           `json:"compact"`
	Terms   []string         `json:"terms"`
	Status  prcontext.Status `json:"status"`
	Summary string           `json:"summary"`
}

// buildContext loads the context a question would be sent with and returns
// the full and compact prompts.
func (s *Server) buildContext(c echo.Context) error {
	var req contextRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.PageURL) == "" {
		return errorJSON(c, http.StatusBadRequest, "pageUrl is required")
	}

	ctx := c.Request().Context()
	sess, unlock, err := s.sessions.get(ctx, req.PageURL)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	defer unlock()

	page := prcontext.Page{URL: req.PageURL, Selection: req.Selection, SelectionPath: req.SelectionPath}
	include := req.Include.resolve()
	status := sess.ctrl.LoadContext(ctx, req.UserText, page, include)
	a := sess.ctrl.Assembler()

	return c.JSON(http.StatusOK, contextResponse{
		Prompt:  a.BuildPrompt(req.UserText, page, include),
		Compact: a.BuildCompact(req.UserText, page, include),
		Terms:   a.Terms(req.UserText, page, include),
		Status:  status,
		Summary: status.String(),
	})
}

type definitionRequest struct {
	PageURL    string `json:"pageUrl"`
	Identifier string `json:"identifier"`
	Selection  string `json:"selection"`
	Path       string `json:"path"`
}

type definitionResponse struct {
	definition.Result
	Message string `json:"message"`
}

// findDefinition looks an identifier up at the pull request's head revision,
// in one file when path is given.
func (s *Server) findDefinition(c echo.Context) error {
	var req definitionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if !providers.IsPRURL(req.PageURL) {
		return errorJSON(c, http.StatusBadRequest, "pageUrl must be a pull request URL")
	}
	ident := strings.TrimSpace(req.Identifier)
	if ident == "" {
		ident = terms.IdentifierFromSelection(req.Selection)
	}
	if ident == "" {
		return errorJSON(c, http.StatusBadRequest, "select an identifier (function, class or type name) first")
	}

	ctx := c.Request().Context()
	sess, unlock, err := s.sessions.get(ctx, req.PageURL)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	a := sess.ctrl.Assembler()
	a.EnsureMetadata(ctx, prcontext.Page{URL: req.PageURL})
	pr := a.Context().PR
	unlock()

	res, err := s.locator.ForPullRequest(ctx, pr, ident, strings.TrimSpace(req.Path))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, definition.ErrNoHeadRevision) {
			status = http.StatusConflict
		}
		return errorJSON(c, status, err.Error())
	}
	return c.JSON(http.StatusOK, definitionResponse{Result: res, Message: res.Format()})
}

func conversationKey(c echo.Context) string {
	if key := strings.TrimSpace(c.QueryParam("key")); key != "" {
		return key
	}
	if page := strings.TrimSpace(c.QueryParam("pageUrl")); page != "" {
		return providers.ConversationKey(page)
	}
	return ""
}

type messageView struct {
	conversation.Message
	Text string `json:"text"`
}

func (s *Server) getConversation(c echo.Context) error {
	key := conversationKey(c)
	if key == "" {
		return errorJSON(c, http.StatusBadRequest, "key is required")
	}
	msgs, err := s.opts.Store.Load(c.Request().Context(), key)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m, Text: m.DisplayText()}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"key": key, "messages": views})
}

func (s *Server) clearConversation(c echo.Context) error {
	key := conversationKey(c)
	if key == "" {
		return errorJSON(c, http.StatusBadRequest, "key is required")
	}
	ctx := c.Request().Context()
	if sess, ok := s.sessions.peek(key); ok {
		sess.mu.Lock()
		err := sess.ctrl.Clear(ctx)
		sess.mu.Unlock()
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
	if err := s.opts.Store.Clear(ctx, key); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type settingsRequest struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl"`
	OrgID     string `json:"orgId"`
	ProjectID string `json:"projectId"`
}

// testSettings checks the configured model settings, with any fields of the
// request body taking precedence.
func (s *Server) testSettings(c echo.Context) error {
	var req settingsRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid request body")
		}
	}
	settings := s.opts.Settings.Current()
	override := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	override(&settings.APIKey, req.APIKey)
	override(&settings.BaseURL, req.BaseURL)
	override(&settings.OrgID, req.OrgID)
	override(&settings.ProjectID, req.ProjectID)

	return c.JSON(http.StatusOK, s.relay.CheckSettings(c.Request().Context(), settings))
}

type diagramRequest struct {
	Text string `json:"text"`
}

type renderedDiagram struct {
	Code  string `json:"code"`
	SVG   string `json:"svg,omitempty"`
	Error string `json:"error,omitempty"`
}

// renderDiagrams renders every mermaid block of an answer.
func (s *Server) renderDiagrams(c echo.Context) error {
	var req diagramRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	blocks := diagram.ExtractMermaidBlocks(req.Text)
	out := make([]renderedDiagram, len(blocks))
	for i, code := range blocks {
		out[i] = renderedDiagram{Code: code}
		if s.opts.Renderer == nil {
			out[i].Error = "diagram rendering is not configured"
			continue
		}
		svg, err := s.opts.Renderer.Render(c.Request().Context(), code)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.Debug().Err(err).Msg("Mermaid render failed")
			out[i].Error = err.Error()
			continue
		}
		out[i].SVG = svg
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"diagrams": out})
}
