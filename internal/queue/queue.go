// Package queue is the hand-off between the API process that accepts
// jobs and the worker process that renders them. The broker owns
// ordering and redelivery; job state lives in the job store, so a
// message carries only the job id and its workflow kind.
package queue

import (
	"context"
	"fmt"
	"sync"

	"renderd/pkg/types"
)

// Message is one queued unit of work.
type Message struct {
	JobID    string         `json:"job_id"`
	Workflow types.Workflow `json:"workflow"`
}

// Delivery is a consumed message plus its acknowledgement handles.
// Nack discards without requeue: failures the runner has already
// recorded as terminal must not loop back.
type Delivery struct {
	Message
	ack  func() error
	nack func() error
}

// Ack confirms processing finished, successfully or not.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack discards the delivery without requeueing it.
func (d Delivery) Nack() error {
	if d.nack == nil {
		return nil
	}
	return d.nack()
}

// Queue is the broker boundary.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// MemoryQueue is an in-process Queue for tests and single-binary
// development runs.
type MemoryQueue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewMemoryQueue constructs a queue buffering up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Message, size)}
}

func (q *MemoryQueue) Publish(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-q.ch:
				if !ok {
					return
				}
				select {
				case out <- Delivery{Message: msg}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
