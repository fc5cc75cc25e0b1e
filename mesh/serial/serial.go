// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package serial

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/TheThingsNetwork/mesh-gateway-bridge/mesh"
	"github.com/TheThingsNetwork/mesh-gateway-bridge/types"
	"github.com/apex/log"
	"go.bug.st/serial"
)

// BufferSize indicates the maximum number of received messages that should be buffered
var BufferSize = 64

// MaxLineSize is the maximum size of a single frame from the radio
var MaxLineSize = 16 * 1024

// DefaultBaudRate of the mesh radio
const DefaultBaudRate = 115200

// Config contains configuration for the serial port
type Config struct {
	Port     string
	BaudRate int
}

// frame is a single line on the serial link
type frame struct {
	Event   string   `json:"ev,omitempty"`
	Command string   `json:"cmd,omitempty"`
	Node    uint32   `json:"node,omitempty"`
	From    uint32   `json:"from,omitempty"`
	To      uint32   `json:"to,omitempty"`
	Msg     string   `json:"msg,omitempty"`
	Nodes   []uint32 `json:"nodes,omitempty"`
	IP      string   `json:"ip,omitempty"`
}

// Radio events and host commands
const (
	eventID    = "id"
	eventRx    = "rx"
	eventNodes = "nodes"
	eventIP    = "ip"

	commandHello     = "hello"
	commandSend      = "send"
	commandBroadcast = "bcast"
)

// Transport talks to a mesh radio over a serial link
type Transport struct {
	ctx log.Interface
	rw  io.ReadWriteCloser

	writeMu sync.Mutex
	encoder *json.Encoder

	mu      sync.RWMutex
	id      uint32
	nodes   []uint32
	address string
	closed  bool

	ready     chan struct{}
	readyOnce sync.Once
	receive   chan *types.MeshMessage
	topology  chan struct{}
}

var _ mesh.Transport = &Transport{}

// Open the serial port and start a Transport on it
func Open(config Config, ctx log.Interface) (*Transport, error) {
	if config.BaudRate == 0 {
		config.BaudRate = DefaultBaudRate
	}
	port, err := serial.Open(config.Port, &serial.Mode{
		BaudRate: config.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	ctx.WithField("Port", config.Port).WithField("BaudRate", config.BaudRate).Info("Opened serial port")
	return New(port, ctx)
}

// New starts a Transport on the given link and asks the radio for its identity
func New(rw io.ReadWriteCloser, ctx log.Interface) (*Transport, error) {
	t := &Transport{
		ctx:      ctx.WithField("Transport", "Serial"),
		rw:       rw,
		encoder:  json.NewEncoder(rw),
		ready:    make(chan struct{}),
		receive:  make(chan *types.MeshMessage, BufferSize),
		topology: make(chan struct{}, 1),
	}
	go t.read()
	if err := t.write(&frame{Command: commandHello}); err != nil {
		rw.Close()
		return nil, err
	}
	return t, nil
}

// Ready is closed when the radio has reported its node ID
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

func (t *Transport) write(f *frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return mesh.ErrClosed
	}
	return t.encoder.Encode(f)
}

func (t *Transport) read() {
	defer close(t.receive)
	reader := bufio.NewReaderSize(t.rw, MaxLineSize)
	for {
		line, err := t.readLine(reader)
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var f frame
			if jsonErr := json.Unmarshal(line, &f); jsonErr != nil {
				t.ctx.WithError(jsonErr).Debug("Ignoring non-JSON line from radio")
			} else {
				t.handle(&f)
			}
		}
		if err != nil {
			if err != io.EOF {
				t.ctx.WithError(err).Warn("Serial link failed")
			}
			break
		}
	}
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// readLine returns the next line that fits in MaxLineSize. Longer lines are
// discarded up to and including their newline.
func (t *Transport) readLine(reader *bufio.Reader) ([]byte, error) {
	for {
		line, err := reader.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return line, err
		}
		discarded := len(line)
		for err == bufio.ErrBufferFull {
			line, err = reader.ReadSlice('\n')
			discarded += len(line)
		}
		if err != nil {
			return nil, err
		}
		t.ctx.WithField("Size", discarded).Warn("Discarding oversized line from radio")
		oversizedLinesCounter.Inc()
	}
}

func (t *Transport) handle(f *frame) {
	switch f.Event {
	case eventID:
		t.mu.Lock()
		t.id = f.Node
		t.mu.Unlock()
		t.ctx.WithField("NodeID", f.Node).Info("Radio reported node ID")
		t.readyOnce.Do(func() { close(t.ready) })
	case eventIP:
		t.mu.Lock()
		t.address = f.IP
		t.mu.Unlock()
	case eventNodes:
		nodes := append([]uint32(nil), f.Nodes...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		t.mu.Lock()
		t.nodes = nodes
		t.mu.Unlock()
		select {
		case t.topology <- struct{}{}:
		default:
		}
	case eventRx:
		select {
		case t.receive <- &types.MeshMessage{From: f.From, Payload: []byte(f.Msg)}:
		default:
			t.ctx.Warn("Could not handle message from radio: buffer full")
		}
	default:
		t.ctx.WithField("Event", f.Event).Debug("Ignoring unknown event from radio")
	}
}

// NodeID implements mesh.Transport. It is 0 until the radio has reported its identity.
func (t *Transport) NodeID() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Nodes implements mesh.Transport
func (t *Transport) Nodes() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]uint32(nil), t.nodes...)
}

// Address implements mesh.Addresser
func (t *Transport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// Send implements mesh.Transport
func (t *Transport) Send(to uint32, payload []byte) error {
	if to == 0 {
		return mesh.ErrUnreachable
	}
	return t.write(&frame{Command: commandSend, To: to, Msg: string(payload)})
}

// Broadcast implements mesh.Transport
func (t *Transport) Broadcast(payload []byte) error {
	return t.write(&frame{Command: commandBroadcast, Msg: string(payload)})
}

// Receive implements mesh.Transport. The channel is closed when the link fails.
func (t *Transport) Receive() <-chan *types.MeshMessage {
	return t.receive
}

// TopologyChanged implements mesh.Transport
func (t *Transport) TopologyChanged() <-chan struct{} {
	return t.topology
}

// Close the serial link
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.rw.Close()
}
