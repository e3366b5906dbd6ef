package protocol

// InputBuffer is received link data waiting to be parsed.
type InputBuffer interface {
	// Data returns the unparsed bytes.
	Data() []byte

	// Available returns len(Data()).
	Available() int

	// Pop discards n parsed bytes.
	Pop(n int)
}

// OutputBuffer collects frames for sending. Frames are built in place: the
// length byte is patched once the payload is known.
type OutputBuffer interface {
	Output(data []byte)

	// CurPosition returns the write offset, for use with Update and DataSince.
	CurPosition() int

	// Update overwrites one byte already written.
	Update(pos int, val byte)

	// DataSince returns what was written after pos.
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a byte slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte {
	return s.data
}

func (s *SliceInputBuffer) Available() int {
	return len(s.data)
}

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed size OutputBuffer that never allocates. Writes
// past the end are dropped and flagged.
type ScratchOutput struct {
	buf      [MessageMax]byte
	pos      int
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Truncate discards everything written after pos.
func (s *ScratchOutput) Truncate(pos int) {
	if pos >= 0 && pos < s.pos {
		s.pos = pos
	}
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Overflowed reports whether a write was dropped since the last Reset.
func (s *ScratchOutput) Overflowed() bool {
	return s.overflow
}

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// FifoBuffer is a byte ring between the link reader and the frame parser.
// All of its capacity is usable, and Data linearises a wrapped ring into a
// buffer allocated once.
type FifoBuffer struct {
	buf    []byte
	linear []byte
	read   int
	count  int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:    make([]byte, capacity),
		linear: make([]byte, capacity),
	}
}

// Write appends as much of data as fits and returns how much that was.
func (f *FifoBuffer) Write(data []byte) int {
	n := 0
	for _, b := range data {
		if f.count == len(f.buf) {
			break
		}
		f.buf[(f.read+f.count)%len(f.buf)] = b
		f.count++
		n++
	}
	return n
}

// Read moves up to len(data) bytes out of the ring.
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for n < len(data) && f.count > 0 {
		data[n] = f.buf[f.read]
		f.read = (f.read + 1) % len(f.buf)
		f.count--
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	return f.count
}

// Free returns how many bytes Write would accept.
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.count
}

// Data returns the buffered bytes in order. The slice is only valid until the
// next Write, Read or Pop.
func (f *FifoBuffer) Data() []byte {
	end := f.read + f.count
	if end <= len(f.buf) {
		return f.buf[f.read:end]
	}
	first := copy(f.linear, f.buf[f.read:])
	copy(f.linear[first:], f.buf[:end-len(f.buf)])
	return f.linear[:f.count]
}

// Pop discards up to n bytes from the front.
func (f *FifoBuffer) Pop(n int) {
	if n > f.count {
		n = f.count
	}
	if n <= 0 {
		return
	}
	f.read = (f.read + n) % len(f.buf)
	f.count -= n
}

func (f *FifoBuffer) IsEmpty() bool {
	return f.count == 0
}

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.count = 0
}
