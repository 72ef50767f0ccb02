package core

// VM is the JavaScript engine hosting the room client, either QuickJS or
// V8 depending on build tags. A VM belongs to the goroutine that created it
// and must only be used from there.
type VM interface {
	// Exec runs src as a global script.
	Exec(src string) error

	// Text runs src and returns its completion value converted to a string.
	// Undefined and null yield "".
	Text(src string) (string, error)

	// Truth runs src and returns its completion value as a bool.
	Truth(src string) (bool, error)

	// Expose installs fn as the global function name. Arguments and results
	// may be strings, ints, float64s and bools. A func returning
	// (T, error) throws in JavaScript when the error is non-nil.
	Expose(name string, fn any) error

	// DrainJobs runs queued promise reactions until none are left.
	DrainJobs()

	Close()
}

// SlotMode is the buffer type the VM reads out of a byte slot.
type SlotMode string

const (
	SlotArrayBuffer SlotMode = "ab"
	SlotShared      SlotMode = "sab"
)

// ByteSlots is implemented by VMs that copy bytes straight between Go
// memory and a global slot. VMs without it exchange bytes as base64 text.
type ByteSlots interface {
	// SlotMode reports what the VM side must park in a slot for Unpark.
	SlotMode() SlotMode

	// Park stores a copy of data as an ArrayBuffer at globalThis[slot].
	Park(slot string, data []byte) error

	// Unpark copies the buffer at globalThis[slot] into Go memory and
	// deletes the slot.
	Unpark(slot string) ([]byte, error)
}
