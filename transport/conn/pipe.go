// Package conn - Pipe connection: an in-process Connection pair backed by
// os.Pipe, grounded on the original Collage PipeConnection (creates a pair of
// unidirectional descriptors, wires `_sibling` so A.write feeds B.read and
// vice versa) and set non-blocking via golang.org/x/sys/unix the way the
// teacher's fs/ios packages reach for raw syscalls on Linux rather than
// rely on the stdlib's blocking os.File semantics.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type Pipe struct {
	mu       sync.Mutex
	r, w     *os.File
	state    State
	sibling  *Pipe
	notifyCh chan struct{}
	onChange []func(State)
}

// NewPipePair creates two sibling Pipe connections: a.Write feeds b.Read and
// b.Write feeds a.Read (spec.md §6.1's "sibling relation").
func NewPipePair() (a, b *Pipe, err error) {
	var fdsAB, fdsBA [2]int
	if err = unixPipe2(&fdsAB); err != nil {
		return nil, nil, err
	}
	if err = unixPipe2(&fdsBA); err != nil {
		unix.Close(fdsAB[0])
		unix.Close(fdsAB[1])
		return nil, nil, err
	}

	a = &Pipe{
		r:     os.NewFile(uintptr(fdsBA[0]), "pipe-a-r"),
		w:     os.NewFile(uintptr(fdsAB[1]), "pipe-a-w"),
		state: StateConnected,
	}
	b = &Pipe{
		r:     os.NewFile(uintptr(fdsAB[0]), "pipe-b-r"),
		w:     os.NewFile(uintptr(fdsBA[1]), "pipe-b-w"),
		state: StateConnected,
	}
	a.sibling, b.sibling = b, a
	a.notifyCh = make(chan struct{}, 1)
	b.notifyCh = make(chan struct{}, 1)
	return a, b, nil
}

func unixPipe2(fds *[2]int) error {
	p := make([]int, 2)
	if err := unix.Pipe2(p, unix.O_NONBLOCK); err != nil {
		return err
	}
	fds[0], fds[1] = p[0], p[1]
	return nil
}

// ReadNB does not read into buf: it only marks the Notifier readable (unless
// a notification is already pending), after which the caller reads the
// bytes with ReadSync.
func (p *Pipe) ReadNB(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return errors.New("pipe closed")
	}
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pipe) ReadSync(buf []byte) (int, error) {
	n, err := io.ReadFull(p.r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			p.Close()
			return -1, err
		}
	}
	return n, err
}

func (p *Pipe) Write(buf []byte) (int, error) {
	p.mu.Lock()
	state := p.state
	sibling := p.sibling
	p.mu.Unlock()
	if state != StateConnected {
		return -1, errors.New("pipe not connected")
	}
	n, err := p.w.Write(buf)
	if err == nil && sibling != nil {
		select {
		case sibling.notifyCh <- struct{}{}:
		default:
		}
	}
	return n, err
}

func (p *Pipe) Notifier() <-chan struct{} { return p.notifyCh }

func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	cbs := append([]func(State){}, p.onChange...)
	p.mu.Unlock()

	p.r.Close()
	p.w.Close()
	for _, cb := range cbs {
		cb(StateClosed)
	}
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) OnStateChange(cb func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, cb)
}

func (p *Pipe) Peer() Connection { return p.sibling }

var _ Sibling = (*Pipe)(nil)
