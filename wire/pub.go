/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wire

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Publisher fans a stream of frames out to whichever TCP readers are
// currently connected, standing in for the original's XPUB sockets
// (ZeroMQ has no Go binding in this stack). A slow subscriber never
// slows the publisher down: its outbound queue is bounded, and a
// subscriber that can't keep up is disconnected rather than allowed to
// apply backpressure to the task that calls Publish.
type Publisher struct {
	mu       sync.Mutex
	ln       net.Listener
	subs     map[*subscriber]struct{}
	queue    int
	log      *logrus.Entry
	closed   bool
	onChange func(count int)
}

// SetOnSubscriberChange registers fn to be called, with the current
// subscriber count, every time a subscriber connects or disconnects.
// Standing in for the original's XPUB subscribe/unsubscribe messages,
// which tasks like the MCA histogram publisher use to activate only
// while someone is listening.
func (p *Publisher) SetOnSubscriberChange(fn func(count int)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Publisher) notifyChange() {
	if p.onChange != nil {
		p.onChange(len(p.subs))
	}
}

type subscriber struct {
	conn net.Conn
	ch   chan *pubFrame
	done chan struct{}
}

// pubFrame is one Malloc'd, length-prefixed frame queued to every
// subscriber connected at Publish time. Every subscriber that actually
// receives it (queue not full) must release it; the buffer is freed
// back to the pool once the last one does, since Publish hands the
// same backing slice to every subscriber's writeLoop concurrently.
type pubFrame struct {
	buf  []byte
	refs int32
}

func (f *pubFrame) release() {
	if atomic.AddInt32(&f.refs, -1) == 0 {
		Free(f.buf)
	}
}

// NewPublisher starts listening on addr and accepting subscriber
// connections in the background. queueLen bounds how many unsent
// frames may back up for one subscriber before it is dropped.
func NewPublisher(addr string, queueLen int, log *logrus.Entry) (*Publisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		ln:    ln,
		subs:  make(map[*subscriber]struct{}),
		queue: queueLen,
		log:   log,
	}
	go p.acceptLoop()
	return p, nil
}

func (p *Publisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		sub := &subscriber{
			conn: conn,
			ch:   make(chan *pubFrame, p.queue),
			done: make(chan struct{}),
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			continue
		}
		p.subs[sub] = struct{}{}
		p.notifyChange()
		p.mu.Unlock()
		go p.writeLoop(sub)
	}
}

func (p *Publisher) writeLoop(sub *subscriber) {
	defer func() {
		p.mu.Lock()
		delete(p.subs, sub)
		p.notifyChange()
		p.mu.Unlock()
		sub.conn.Close()
	}()
	for {
		select {
		case f, ok := <-sub.ch:
			if !ok {
				return
			}
			_, err := sub.conn.Write(f.buf)
			f.release()
			if err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Publish encodes frame as a uint32 length prefix followed by its
// bytes and offers it to every connected subscriber. A subscriber whose
// queue is already full is dropped instead of blocking the caller. The
// Malloc'd buffer is shared read-only across every subscriber's
// writeLoop and is freed back to the pool once the last one has
// written it.
func (p *Publisher) Publish(frame []byte) {
	buf := Malloc(4 + len(frame))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)

	// refs starts at 1, held by this call for the duration of the
	// offer loop, so a buffer nobody subscribed to still gets freed
	// via the final release below instead of leaking.
	f := &pubFrame{buf: buf, refs: 1}

	p.mu.Lock()
	for sub := range p.subs {
		select {
		case sub.ch <- f:
			atomic.AddInt32(&f.refs, 1)
		default:
			if p.log != nil {
				p.log.Warn("publish: subscriber queue full, dropping")
			}
			close(sub.done)
			delete(p.subs, sub)
			p.notifyChange()
		}
	}
	p.mu.Unlock()

	f.release()
}

// Close stops accepting new subscribers and disconnects all existing
// ones.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	for sub := range p.subs {
		close(sub.done)
		delete(p.subs, sub)
	}
	p.notifyChange()
	p.mu.Unlock()
	return p.ln.Close()
}

// ReadPublishFrame reads one length-prefixed frame as written by
// Publisher.Publish, using the shared pool for its backing buffer. The
// caller should Free the result when done with it.
func ReadPublishFrame(r io.Reader) ([]byte, error) {
	d := NewDecoder(r)
	n := d.ReadUint32()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if n > MaxFieldLen {
		return nil, ErrFieldTooLong
	}
	buf := Malloc(int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
