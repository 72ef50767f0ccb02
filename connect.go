package roomkit

import "context"

// ConnectOperation is a pending Room.Connect. It resolves to the room once
// the server accepted the join.
type ConnectOperation struct {
	p    *Promise[struct{}]
	room *Room
}

// Done is closed once the operation completed.
func (c *ConnectOperation) Done() <-chan struct{} { return c.p.Done() }

func (c *ConnectOperation) IsDone() bool { return c.p.IsDone() }

// IsError reports whether the connection failed. It panics if the
// operation is still pending.
func (c *ConnectOperation) IsError() bool { return c.p.IsError() }

// Room returns the room being connected.
func (c *ConnectOperation) Room() *Room { return c.room }

// Error returns the failure, or nil on success. It panics if the operation
// is still pending.
func (c *ConnectOperation) Error() *JSError { return c.p.RejectValue() }

// Await waits for the join to complete.
func (c *ConnectOperation) Await(ctx context.Context) (*Room, error) {
	if _, err := c.p.Await(ctx); err != nil {
		return nil, err
	}
	return c.room, nil
}

// OnDone runs fn on the bridge loop once the operation completed.
func (c *ConnectOperation) OnDone(fn func(ctx context.Context)) { c.p.OnDone(fn) }
