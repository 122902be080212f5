// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package commands holds the commands waiting for the polling device.

The device has no push channel. It polls GET /esp/commands and receives whatever
accumulated since its last poll. Delivery is at-most-once: the queue is handed out
and emptied in the same critical section, there is no acknowledgement and no replay.
Between two polls the last write per field wins.
*/
package commands

import "sync"

// Queue is the pending command mapping from field name to value
type Queue struct {
	mu      sync.Mutex
	pending map[string]interface{}
}

// NewQueue returns an empty queue
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]interface{})}
}

// Enqueue sets or overwrites the pending value for field
func (q *Queue) Enqueue(field string, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[field] = value
}

// DrainAll returns all pending commands and empties the queue. The result is
// never nil.
func (q *Queue) DrainAll() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = make(map[string]interface{})
	return drained
}

// Len returns the number of pending commands
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
