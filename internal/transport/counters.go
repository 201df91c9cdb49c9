package transport

import "sync/atomic"

// Counters accumulates traffic totals across every connection that shares
// them. All fields are atomics so sessions update them without coordination.
type Counters struct {
	TotalConns  atomic.Int64 // cumulative count of connections since start
	ClosedConns atomic.Int64 // cumulative count of closed connections since start
	BytesSent   atomic.Int64 // cumulative bytes written to streams
	BytesRecv   atomic.Int64 // cumulative bytes read from streams
}

func (c *Counters) AddConn()      { c.TotalConns.Add(1) }
func (c *Counters) RemoveConn()   { c.ClosedConns.Add(1) }
func (c *Counters) AddSent(n int) { c.BytesSent.Add(int64(n)) }
func (c *Counters) AddRecv(n int) { c.BytesRecv.Add(int64(n)) }
