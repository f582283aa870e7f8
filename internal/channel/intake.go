package channel

import "sync"

// senderQueue runs jobs for one sender in arrival order. Jobs for different
// senders run independently.
type senderQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{} // closed when the sender's last job is done
	wg    sync.WaitGroup
}

func newSenderQueue() *senderQueue {
	return &senderQueue{tails: make(map[string]chan struct{})}
}

// submit schedules job behind the sender's earlier jobs and returns at once.
func (q *senderQueue) submit(sender string, job func()) {
	q.mu.Lock()
	prev := q.tails[sender]
	done := make(chan struct{})
	q.tails[sender] = done
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if prev != nil {
			<-prev
		}
		job()
		q.release(sender, done)
	}()
}

// run executes job inline when nothing is queued for the sender, and queues it
// otherwise. Inline jobs hold the queue lock, so they must be short.
func (q *senderQueue) run(sender string, job func()) {
	q.mu.Lock()
	if _, busy := q.tails[sender]; busy {
		q.mu.Unlock()
		q.submit(sender, job)
		return
	}
	defer q.mu.Unlock()
	job()
}

func (q *senderQueue) release(sender string, done chan struct{}) {
	close(done)
	q.mu.Lock()
	if q.tails[sender] == done {
		delete(q.tails, sender)
	}
	q.mu.Unlock()
}

func (q *senderQueue) wait() { q.wg.Wait() }
