package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/chat"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/relay"
)

// turn is a chat request of one connection: the id the client knows it by
// and the session whose controller records the answer.
type turn struct {
	clientID string
	sess     *session
}

// turns maps controller request ids to the turns of one connection.
type turns struct {
	mu     sync.Mutex
	byID   map[string]*turn
	closed bool
}

func (t *turns) add(id string, tr *turn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.byID[id] = tr
	return true
}

// lookup returns the turn of a controller request id, dropping it when done
// is set.
func (t *turns) lookup(id string, done bool) (*turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byID[id]
	if ok && done {
		delete(t.byID, id)
	}
	return tr, ok
}

func (t *turns) byClientID(clientID string) (string, *turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tr := range t.byID {
		if tr.clientID == clientID {
			delete(t.byID, id)
			return id, tr, true
		}
	}
	return "", nil, false
}

// close returns the open turns and refuses new ones.
func (t *turns) close() map[string]*turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	open := t.byID
	t.byID = map[string]*turn{}
	return open
}

// abortTurn stops tracking id on the session controller if it is still the
// request being streamed there. The partial answer is kept.
func abortTurn(ctx context.Context, id string, tr *turn) {
	tr.sess.mu.Lock()
	defer tr.sess.mu.Unlock()
	if cur := tr.sess.ctrl.Streaming(); cur != nil && cur.RequestID == id {
		tr.sess.ctrl.Abort(ctx)
	}
}

// handleConn runs the relay for one websocket connection. Stream requests
// and aborts pass through unchanged. Chat turns go through the page's session
// controller, which builds the prompt and records the streamed answer in the
// conversation store.
func (s *Server) handleConn(ctx context.Context, inbound <-chan relay.Inbound, send func(relay.Outbound)) error {
	open := &turns{byID: map[string]*turn{}}
	forward := make(chan relay.Inbound)

	go func() {
		defer close(forward)
		for msg := range inbound {
			out, ok := s.translate(ctx, open, msg, send)
			if !ok {
				continue
			}
			select {
			case forward <- out:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := s.relay.Serve(ctx, forward, func(evt relay.Outbound) {
		if tr, ok := open.lookup(evt.RequestID, evt.Terminal()); ok {
			tr.sess.mu.Lock()
			tr.sess.ctrl.HandleEvent(ctx, evt)
			tr.sess.mu.Unlock()
			evt.RequestID = tr.clientID
		}
		send(evt)
	})

	for id, tr := range open.close() {
		abortTurn(context.WithoutCancel(ctx), id, tr)
	}
	return err
}

// translate turns a client message into what the relay loop should see. It
// reports false when nothing is to be forwarded.
func (s *Server) translate(ctx context.Context, open *turns, msg relay.Inbound, send func(relay.Outbound)) (relay.Inbound, bool) {
	switch msg.Type {
	case relay.TypeChat:
		return s.startTurn(ctx, open, msg, send)
	case relay.TypeAbort:
		if id, tr, ok := open.byClientID(msg.RequestID); ok {
			abortTurn(ctx, id, tr)
			return relay.Inbound{Type: relay.TypeAbort, RequestID: id}, true
		}
	}
	return msg, true
}

func (s *Server) startTurn(ctx context.Context, open *turns, msg relay.Inbound, send func(relay.Outbound)) (relay.Inbound, bool) {
	var req contextRequest
	if len(msg.Chat) == 0 || json.Unmarshal(msg.Chat, &req) != nil {
		send(relay.ErrorEvent(msg.RequestID, "invalid chat request"))
		return relay.Inbound{}, false
	}
	if strings.TrimSpace(req.PageURL) == "" {
		send(relay.ErrorEvent(msg.RequestID, "pageUrl is required"))
		return relay.Inbound{}, false
	}

	sess, unlock, err := s.sessions.get(ctx, req.PageURL)
	if err != nil {
		send(relay.ErrorEvent(msg.RequestID, err.Error()))
		return relay.Inbound{}, false
	}
	page := prcontext.Page{URL: req.PageURL, Selection: req.Selection, SelectionPath: req.SelectionPath}
	out, err := sess.ctrl.Send(ctx, req.UserText, page, req.Include.resolve())
	unlock()
	if err != nil {
		text := err.Error()
		if apperr.IsKind(err, apperr.KindConfigMissing) {
			text = chat.MissingKeyHint
		}
		send(relay.ErrorEvent(msg.RequestID, text))
		return relay.Inbound{}, false
	}

	tr := &turn{clientID: msg.RequestID, sess: sess}
	if tr.clientID == "" {
		tr.clientID = out.RequestID
	}
	if !open.add(out.RequestID, tr) {
		abortTurn(context.WithoutCancel(ctx), out.RequestID, tr)
		return relay.Inbound{}, false
	}
	log.Debug().Str("request_id", out.RequestID).Str("client_id", tr.clientID).Msg("Chat turn started")
	return *out, true
}
