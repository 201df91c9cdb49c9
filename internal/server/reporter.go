package server

import (
	"context"
	"fmt"
	"time"

	"github.com/Hexkalibur/Ether/internal/util"
)

const reportInterval = 10 * time.Second

// startReporter launches a goroutine that logs traffic and allocator usage
// every reportInterval. Quiet intervals produce no output. It stops when ctx
// is cancelled.
func (s *Server) startReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := s.counters.TotalConns.Load()
				closed := s.counters.ClosedConns.Load()
				sent := s.counters.BytesSent.Load()
				recv := s.counters.BytesRecv.Load()

				outS := float64(sent-prevSent) / reportInterval.Seconds()
				inS := float64(recv-prevRecv) / reportInterval.Seconds()
				inC := total - prevTotal
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					stats := s.alloc.Stats()
					util.LogInfo("%s", fmt.Sprintf(
						"In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ | Mem: %s (%d blocks)",
						util.FormatBytes(inS),
						util.FormatBytes(outS),
						inC,
						outC,
						util.FormatBytes(float64(stats.CurrentUsage)),
						s.handles.Len(),
					))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}
