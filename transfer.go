package roomkit

// TransferStack is the ordered argument buffer of one crossing. The
// producer pushes every argument before the crossing; the consumer shifts
// exactly as many, in the same order, and then calls Done.
//
// A stack belongs to a single crossing. It is not safe for concurrent use
// and must not be reused once handed to the bridge.
type TransferStack struct {
	vals []Value
	head int
}

// NewTransferStack returns a stack preloaded with vals.
func NewTransferStack(vals ...Value) *TransferStack {
	return &TransferStack{vals: vals}
}

// Push appends v.
func (s *TransferStack) Push(v Value) *TransferStack {
	s.vals = append(s.vals, v)
	return s
}

func (s *TransferStack) PushString(str string) *TransferStack { return s.Push(StringValue(str)) }
func (s *TransferStack) PushNumber(f float64) *TransferStack  { return s.Push(NumberValue(f)) }
func (s *TransferStack) PushInt(n int) *TransferStack         { return s.Push(IntValue(n)) }
func (s *TransferStack) PushBool(b bool) *TransferStack       { return s.Push(BoolValue(b)) }
func (s *TransferStack) PushBytes(p []byte) *TransferStack    { return s.Push(BytesValue(p)) }
func (s *TransferStack) PushStruct(doc any) *TransferStack    { return s.Push(StructValue(doc)) }

// PushObject pushes a reference to a live wrapper. The wrapper keeps its
// reference-count unit.
func (s *TransferStack) PushObject(o *Object) *TransferStack {
	return s.Push(o.Value())
}

// Shift removes and returns the oldest value. Shifting an empty stack is a
// contract violation.
func (s *TransferStack) Shift() Value {
	if s.head >= len(s.vals) {
		violate("shift", "transfer stack is empty (%d values were pushed)", len(s.vals))
	}
	v := s.vals[s.head]
	s.vals[s.head] = Value{}
	s.head++
	return v
}

// Len returns the number of values not yet shifted.
func (s *TransferStack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.vals) - s.head
}

// Done asserts the consumer shifted every value.
func (s *TransferStack) Done() {
	if n := s.Len(); n != 0 {
		violate("shift", "%d transfer stack values left unconsumed", n)
	}
}

// take hands every remaining value to a crossing and empties the stack.
func (s *TransferStack) take() []Value {
	if s == nil {
		return nil
	}
	out := s.vals[s.head:]
	s.vals, s.head = nil, 0
	return out
}

// discard drains the stack, releasing any handle units it carried.
func (s *TransferStack) discard(b *Bridge) {
	for _, v := range s.take() {
		b.Discard(v)
	}
}
