package vdport

// pendingFrame is one serialized frame waiting in the send queue.
type pendingFrame struct {
	buf  []byte
	pos  int
	next *pendingFrame
}

func (f *pendingFrame) remaining() []byte {
	return f.buf[f.pos:]
}

// sendQueue is a FIFO of serialized frames. Appends go through the tail
// pointer, so enqueue never walks the list.
type sendQueue struct {
	head  *pendingFrame
	tail  *pendingFrame
	depth int
	bytes int
}

func (q *sendQueue) push(buf []byte) {
	f := &pendingFrame{buf: buf}
	if q.tail == nil {
		q.head = f
	} else {
		q.tail.next = f
	}
	q.tail = f
	q.depth++
	q.bytes += len(buf)
}

func (q *sendQueue) front() *pendingFrame {
	return q.head
}

// advance records n bytes of the head frame as written and pops the frame
// once it has been sent completely.
func (q *sendQueue) advance(n int) (popped bool) {
	f := q.head
	if f == nil {
		return false
	}
	f.pos += n
	q.bytes -= n
	if f.pos < len(f.buf) {
		return false
	}
	q.head = f.next
	if q.head == nil {
		q.tail = nil
	}
	f.next, f.buf = nil, nil
	q.depth--
	return true
}

func (q *sendQueue) empty() bool {
	return q.head == nil
}

func (q *sendQueue) len() int {
	return q.depth
}

// reset releases every queued frame, including a partially sent head.
func (q *sendQueue) reset() {
	for f := q.head; f != nil; {
		next := f.next
		f.next, f.buf = nil, nil
		f = next
	}
	q.head, q.tail = nil, nil
	q.depth, q.bytes = 0, 0
}
