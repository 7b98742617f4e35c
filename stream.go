package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"claimstakes/pkg/game"
)

const (
	streamQueue        = 32
	streamWriteTimeout = 5 * time.Second
)

// Clients only listen, so liveness comes from ping/pong. Each pong pushes
// the read deadline out; the ping interval must stay below the read timeout.
var (
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 25 * time.Second
)

// Stream fans tick events out to websocket clients. It is a game.Observer.
type Stream struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewStream() *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[chan []byte]struct{}),
	}
}

// OnTickEvent never blocks the scheduler; slow clients lose events.
func (s *Stream) OnTickEvent(e game.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		ErrorLog.Printf("stream encode: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for out := range s.subs {
		select {
		case out <- b:
		default:
		}
	}
}

func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) subscribe() chan []byte {
	out := make(chan []byte, streamQueue)
	s.mu.Lock()
	s.subs[out] = struct{}{}
	s.mu.Unlock()
	return out
}

func (s *Stream) unsubscribe(out chan []byte) {
	s.mu.Lock()
	delete(s.subs, out)
	s.mu.Unlock()
}

func (s *Stream) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := s.subscribe()
		defer s.unsubscribe(out)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		readTimeout, pingInterval := streamReadTimeout, streamPingInterval
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Writer
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
						cancel()
						return
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// The read loop notices the close and dispatches pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
