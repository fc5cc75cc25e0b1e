// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/googollee/go-socket.io"
)

const (
	room       = "evts"
	messageEvt = "message"
)

// Server is a http server that exposes published messages over websockets
type Server struct {
	ctx      log.Interface
	addr     string
	server   *socketio.Server
	messages chan *types.BrokerMessage

	mu     sync.RWMutex // Protects topics
	topics map[string]int
}

// NewServer creates a new server
func NewServer(ctx log.Interface, addr string) (*Server, error) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		return nil, err
	}

	return &Server{
		ctx:      ctx.WithField("Connector", "Dummy-HTTP"),
		server:   server,
		addr:     addr,
		messages: make(chan *types.BrokerMessage, BufferSize),
		topics:   make(map[string]int),
	}, nil
}

// Handler returns the http handler of the server
func (s *Server) Handler() http.Handler {
	s.server.On("connection", func(so socketio.Socket) {
		s.handleConnect(so)
	})

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", s.server)
	mux.Handle("/", http.FileServer(http.Dir("./assets")))
	mux.HandleFunc("/topics", func(res http.ResponseWriter, _ *http.Request) {
		res.Header().Add("content-type", "application/json; charset=utf-8")
		enc := json.NewEncoder(res)
		enc.Encode(s.Topics())
	})
	return mux
}

// Listen opens the server and starts listening for http requests
func (s *Server) Listen() {
	handler := s.Handler()
	go s.handleEvents()
	s.ctx.Infof("HTTP server listening on %s", s.addr)
	err := http.ListenAndServe(s.addr, handler)
	if err != nil {
		s.ctx.WithError(err).Fatal("Could not serve HTTP")
	}
}

func (s *Server) handleConnect(so socketio.Socket) {
	ctx := s.ctx.WithField("ID", so.Id())
	ctx.Debug("Socket connected")
	so.Join(room)
	so.On("disconnection", func() {
		ctx.Debug("Socket disconnected")
	})
}

type event struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Raw     string          `json:"raw,omitempty"`
}

func (s *Server) handleEvents() {
	for msg := range s.messages {
		evt := event{Topic: msg.Topic}
		if json.Valid(msg.Payload) {
			evt.Payload = msg.Payload
		} else {
			evt.Raw = string(msg.Payload)
		}
		s.emit(messageEvt, evt)
	}
}

func (s *Server) emit(name string, v interface{}) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		s.ctx.WithError(err).Error("Could not marshal event")
		return
	}
	s.server.BroadcastTo(room, name, string(marshalled))
}

// Message emits a published message on the server page
func (s *Server) Message(msg *types.BrokerMessage) {
	s.mu.Lock()
	s.topics[msg.Topic]++
	s.mu.Unlock()
	select {
	case s.messages <- msg:
	default:
		s.ctx.Warn("Dropping message on websocket")
	}
}

// Topics returns the topics that messages were published on
func (s *Server) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
