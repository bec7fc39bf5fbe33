package relay

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/logging"
)

// Relay runs upstream streaming calls for client connections.
type Relay struct {
	settings SettingsSource
	client   *http.Client
}

type Option func(*Relay)

// WithHTTPClient replaces the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

// New builds a relay. The default client has dial and TLS timeouts but no
// overall timeout; a stalled stream lasts until the transport fails or the
// request is aborted.
func New(settings SettingsSource, opts ...Option) *Relay {
	r := &Relay{
		settings: settings,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// handle is a request table entry.
type handle struct {
	cancel context.CancelFunc
}

type update struct {
	h   *handle
	evt Outbound
}

// Serve runs one connection. It reads client messages from inbound and
// passes events to send, always from the calling goroutine. The request
// table is owned by this loop; stream goroutines only post updates, which are
// forwarded while their handle is still in the table. Serve returns when
// inbound is closed or ctx is done, cancelling every request it started.
func (r *Relay) Serve(ctx context.Context, inbound <-chan Inbound, send func(Outbound)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	table := make(map[string]*handle)
	updates := make(chan update)
	closed := make(chan struct{})
	var wg sync.WaitGroup

	defer func() {
		for id, h := range table {
			h.cancel()
			delete(table, id)
		}
		close(closed)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch msg.Type {
			case TypeAbort:
				if h, ok := table[msg.RequestID]; ok {
					h.cancel()
					delete(table, msg.RequestID)
				}
			case TypeStream:
				r.start(ctx, msg, table, send, func(h *handle, run func(post func(Outbound) bool)) {
					wg.Add(1)
					go func() {
						defer wg.Done()
						run(func(evt Outbound) bool {
							select {
							case updates <- update{h: h, evt: evt}:
								return true
							case <-closed:
								return false
							}
						})
					}()
				})
			}

		case u := <-updates:
			h, ok := table[u.evt.RequestID]
			if !ok || h != u.h {
				continue
			}
			send(u.evt)
			if u.evt.Terminal() {
				delete(table, u.evt.RequestID)
				h.cancel()
			}
		}
	}
}

// start validates a stream request and, if it is acceptable, registers it
// in the table and launches its stream through spawn.
func (r *Relay) start(ctx context.Context, msg Inbound, table map[string]*handle, send func(Outbound), spawn func(*handle, func(post func(Outbound) bool))) {
	id := msg.RequestID
	if id == "" || len(msg.Messages) == 0 {
		send(ErrorEvent(id, "invalid request"))
		return
	}

	s := r.settings.Current().Normalize()
	if !s.HasKey() {
		send(ErrorEvent(id, apperr.ConfigMissing("API key is missing").Error()))
		return
	}
	if !s.OriginAllowed() {
		send(ErrorEvent(id, apperr.PermissionMissing(s.Origin()+"/*").Error()))
		return
	}

	if prev, ok := table[id]; ok {
		prev.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}
	table[id] = h

	logger := logging.ForRequest(id)
	logger.Debug().Str("mode", s.Mode).Str("model", s.Model).Int("messages", len(msg.Messages)).Msg("Starting stream")

	spawn(h, func(post func(Outbound) bool) {
		r.stream(reqCtx, id, s, msg.Messages, post, logger)
	})
}

// stream performs one upstream call and posts its events. It posts at most
// one terminal event and nothing once ctx is cancelled.
func (r *Relay) stream(ctx context.Context, id string, s Settings, msgs []ChatMessage, post func(Outbound) bool, logger zerolog.Logger) {
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("Stream failed")
		post(ErrorEvent(id, err.Error()))
	}

	req, f, err := newStreamRequest(ctx, s, msgs)
	if err != nil {
		fail(err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(httpError(resp, upstreamExcerptChars))
		return
	}

	terminated := false
	deltas := 0
	err = ReadEvents(resp.Body, func(data string) bool {
		if ctx.Err() != nil {
			return false
		}
		evt := f.decode(data)
		switch evt.kind {
		case eventDelta:
			deltas++
			return post(DeltaEvent(id, evt.text))
		case eventDone:
			terminated = true
			post(DoneEvent(id))
			return false
		case eventError:
			terminated = true
			logger.Warn().Str("error", evt.text).Msg("Upstream reported an error")
			post(ErrorEvent(id, evt.text))
			return false
		}
		return true
	})

	if terminated || ctx.Err() != nil {
		logger.Debug().Int("deltas", deltas).Bool("aborted", ctx.Err() != nil).Msg("Stream finished")
		return
	}
	if err != nil {
		fail(err)
		return
	}
	logger.Debug().Int("deltas", deltas).Msg("Stream closed without completion event")
	post(DoneEvent(id))
}
