package sched

// PriorityIdle is the bucket reserved for each CPU's idle thread: one lower
// priority than any real thread can hold, always present as the fallback.
const PriorityIdle = 64

// numBuckets covers priorities 0..63 plus the idle bucket at 64.
const numBuckets = PriorityIdle + 1

// readyBuckets is a per-CPU array of FIFO run queues, one per priority
// level, lowest index highest priority.
type readyBuckets struct {
	buckets [numBuckets][]*TCB
}

func (b *readyBuckets) pushBack(t *TCB) {
	p := t.currentPrio
	b.buckets[p] = append(b.buckets[p], t)
}

// lowestNonEmpty returns the index of the lowest (highest-priority)
// non-empty bucket, or -1 if every bucket (including idle) is empty, which
// only happens before the idle thread has been created.
func (b *readyBuckets) lowestNonEmpty() int {
	for i := 0; i < numBuckets; i++ {
		if len(b.buckets[i]) > 0 {
			return i
		}
	}
	return -1
}

// popFront removes and returns the head of bucket i.
func (b *readyBuckets) popFront(i int) *TCB {
	q := b.buckets[i]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	b.buckets[i] = q[1:]
	return head
}

// remove deletes t from whichever bucket it is queued on, if any. Used when
// a thread leaves READY for a reason other than being dispatched (killed
// while queued, affinity change).
func (b *readyBuckets) remove(t *TCB) bool {
	q := b.buckets[t.currentPrio]
	for i, cand := range q {
		if cand == t {
			b.buckets[t.currentPrio] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

func (b *readyBuckets) len() int {
	n := 0
	for i := range b.buckets {
		n += len(b.buckets[i])
	}
	return n
}

// sleepEntry is one thread parked on the system-wide sleep queue.
type sleepEntry struct {
	thread   *TCB
	deadline uint64
}

// sleepQueue is the single system-wide slice ordered by ascending wake
// deadline (FIFO on ties), guarded by its own lock.
type sleepQueue struct {
	entries []sleepEntry
}

// insert adds e in deadline order.
func (q *sleepQueue) insert(e sleepEntry) {
	i := 0
	for i < len(q.entries) && q.entries[i].deadline <= e.deadline {
		i++
	}
	q.entries = append(q.entries, sleepEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// drainExpired removes and returns every entry whose deadline has passed.
func (q *sleepQueue) drainExpired(now uint64) []*TCB {
	i := 0
	for i < len(q.entries) && q.entries[i].deadline <= now {
		i++
	}
	if i == 0 {
		return nil
	}
	woken := make([]*TCB, i)
	for j := 0; j < i; j++ {
		woken[j] = q.entries[j].thread
	}
	q.entries = q.entries[i:]
	return woken
}

// remove deletes thread from the sleep queue, if present (used when a
// thread is killed while sleeping).
func (q *sleepQueue) remove(t *TCB) bool {
	for i, e := range q.entries {
		if e.thread == t {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
