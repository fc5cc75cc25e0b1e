// Copyright © 2019 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package serial

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSerial(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		Convey("Given a Transport on a link to a radio", func() {
			host, radio := net.Pipe()
			commands := make(chan string, 10)
			go func() {
				scanner := bufio.NewScanner(radio)
				for scanner.Scan() {
					commands <- scanner.Text()
				}
				close(commands)
			}()

			transport, err := New(host, ctx)
			So(err, ShouldBeNil)
			defer transport.Close()

			next := func() string {
				select {
				case cmd := <-commands:
					return cmd
				case <-time.After(time.Second):
					return "timeout"
				}
			}

			Convey("It should greet the radio", func() {
				So(next(), ShouldEqual, `{"cmd":"hello"}`)
			})

			Convey("When the radio reports its identity", func() {
				next()
				radio.Write([]byte("{\"ev\":\"id\",\"node\":2345}\n"))
				radio.Write([]byte("{\"ev\":\"ip\",\"ip\":\"192.168.1.20\"}\n"))
				radio.Write([]byte("{\"ev\":\"nodes\",\"nodes\":[42,11]}\n"))

				Convey("The transport should become ready", func() {
					select {
					case <-transport.Ready():
					case <-time.After(time.Second):
						So("Timeout Exceeded", ShouldBeFalse)
					}
					So(transport.NodeID(), ShouldEqual, 2345)
				})

				Convey("The node list and address should be known", func() {
					select {
					case <-transport.TopologyChanged():
					case <-time.After(time.Second):
						So("Timeout Exceeded", ShouldBeFalse)
					}
					So(transport.Nodes(), ShouldResemble, []uint32{11, 42})
					So(transport.Address(), ShouldEqual, "192.168.1.20")
				})
			})

			Convey("When the radio receives a message", func() {
				next()
				radio.Write([]byte("not json\n"))
				radio.Write([]byte("{\"ev\":\"rx\",\"from\":42,\"msg\":\"{\\\"type\\\":\\\"PONG\\\"}\"}\n"))
				Convey("It should be delivered", func() {
					select {
					case msg := <-transport.Receive():
						So(msg.From, ShouldEqual, 42)
						So(string(msg.Payload), ShouldEqual, `{"type":"PONG"}`)
					case <-time.After(time.Second):
						So("Timeout Exceeded", ShouldBeFalse)
					}
				})
			})

			Convey("When the radio sends a line that is too long", func() {
				next()
				go func() {
					radio.Write([]byte("{\"ev\":\"rx\",\"from\":7,\"msg\":\"" + strings.Repeat("x", MaxLineSize+4096) + "\"}\n"))
					radio.Write([]byte("{\"ev\":\"rx\",\"from\":42,\"msg\":\"{\\\"type\\\":\\\"PONG\\\"}\"}\n"))
				}()
				Convey("It should be skipped and the next frame delivered", func() {
					select {
					case msg, ok := <-transport.Receive():
						So(ok, ShouldBeTrue)
						So(msg.From, ShouldEqual, 42)
						So(string(msg.Payload), ShouldEqual, `{"type":"PONG"}`)
					case <-time.After(time.Second):
						So("Timeout Exceeded", ShouldBeFalse)
					}
					So(logs.String(), ShouldContainSubstring, "Discarding oversized line from radio")
				})
			})

			Convey("When sending and broadcasting", func() {
				next()
				go transport.Send(42, []byte(`{"type":"PING"}`))
				So(next(), ShouldEqual, `{"cmd":"send","to":42,"msg":"{\"type\":\"PING\"}"}`)
				go transport.Broadcast([]byte(`x`))
				So(next(), ShouldEqual, `{"cmd":"bcast","msg":"x"}`)
			})

			Convey("When the link is closed", func() {
				next()
				radio.Close()
				Convey("The receive channel should be closed", func() {
					select {
					case _, ok := <-transport.Receive():
						So(ok, ShouldBeFalse)
					case <-time.After(time.Second):
						So("Timeout Exceeded", ShouldBeFalse)
					}
				})
			})
		})
	})
}
