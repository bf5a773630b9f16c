// CommandQueue: a multi-producer, single-consumer queue of *Command handed
// from receiver threads to the single command thread that applies them,
// grounded on the original Collage eqNet::CommandQueue (lib/net/command.h)
// which layers a condition-variable wakeup over a plain std::deque; here a
// buffered channel plays the same role idiomatically, with a close signal
// standing in for the original's "exiting" flag so blocked Pop() callers
// return immediately when the local node tears down.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "sync"

type CommandQueue struct {
	mu     sync.Mutex
	items  []*Command
	notify chan struct{}
	closed bool
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{notify: make(chan struct{}, 1)}
}

// Push enqueues cmd and wakes a blocked Pop. Returns false if the queue is
// already closed, in which case the caller should Release cmd itself.
func (q *CommandQueue) Push(cmd *Command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop returns the head command without blocking, or nil if empty.
func (q *CommandQueue) TryPop() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *CommandQueue) popLocked() *Command {
	if len(q.items) == 0 {
		return nil
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return cmd
}

// Pop blocks until a command is available or the queue is closed, in which
// case it returns nil.
func (q *CommandQueue) Pop() *Command {
	for {
		if cmd := q.TryPop(); cmd != nil {
			return cmd
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil
		}
		<-q.notify
	}
}

func (q *CommandQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes any blocked Pop, draining and
// releasing whatever commands remain so their buffers return to their pool.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := q.items
	q.items = nil
	q.mu.Unlock()

	for _, cmd := range remaining {
		cmd.Release()
	}
	close(q.notify)
}
