package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

// Handler runs the message loop of one connection. Relay.Serve is the plain
// one. send may be called from any goroutine.
type Handler func(ctx context.Context, inbound <-chan Inbound, send func(Outbound)) error

// ServeConn runs the relay over a websocket connection with JSON text frames.
// It returns when the peer disconnects or ctx is done; either way every
// request of the connection is cancelled.
func (r *Relay) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	return ServeConnWith(ctx, conn, r.Serve)
}

// ServeConnWith is ServeConn with a custom message loop.
func ServeConnWith(ctx context.Context, conn *websocket.Conn, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan Inbound)
	outbound := make(chan Outbound, sendBuffer)
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go readPump(ctx, conn, inbound)
	go func() {
		defer close(writerDone)
		writePump(conn, outbound, stop)
	}()

	err := handle(ctx, inbound, func(evt Outbound) {
		select {
		case outbound <- evt:
		case <-writerDone:
		}
	})

	close(stop)
	<-writerDone
	conn.Close()
	return err
}

// readPump decodes client frames into inbound and closes it when the
// connection fails.
func readPump(ctx context.Context, conn *websocket.Conn, inbound chan<- Inbound) {
	defer close(inbound)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed client message")
			continue
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writePump writes queued events and keeps the connection alive with pings.
// On stop it drains nothing further and sends a close frame.
func writePump(conn *websocket.Conn, outbound <-chan Outbound, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case evt := <-outbound:
			data, err := json.Marshal(evt)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal relay event")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed")
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
