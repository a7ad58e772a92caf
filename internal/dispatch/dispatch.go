// Package dispatch runs update handlers concurrently while keeping the
// updates of one chat in arrival order.
package dispatch

import "sync"

type Pool struct {
	queues []chan func()
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. A key is always served by the same
// worker, so jobs submitted under one key run one at a time in order.
func NewPool(workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{queues: make([]chan func(), workers)}

	for i := range p.queues {
		q := make(chan func(), buffer)
		p.queues[i] = q

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range q {
				job()
			}
		}()
	}

	return p
}

// Submit blocks when the worker for key is busy and its buffer is full.
func (p *Pool) Submit(key int64, job func()) {
	p.queues[p.shard(key)] <- job
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (p *Pool) Close() {
	for _, q := range p.queues {
		close(q)
	}

	p.wg.Wait()
}

func (p *Pool) shard(key int64) int {
	k := key % int64(len(p.queues))
	if k < 0 {
		k = -k
	}

	return int(k)
}
