package channel

import (
	"sync"

	"meshrpc/call"
	"meshrpc/cluster"
)

// balancedStream releases the picked connection once the call reaches
// a terminal state, so draining endpoints can close after their last
// in-flight call.
type balancedStream struct {
	call.Stream
	conn    *cluster.Conn
	release sync.Once
}

func (s *balancedStream) Recv(msg any) error {
	err := s.Stream.Recv(msg)
	if err != nil {
		// Any Recv error is terminal, io.EOF included.
		s.release.Do(s.conn.Release)
	}
	return err
}

func (s *balancedStream) Close() {
	s.Stream.Close()
	s.release.Do(s.conn.Release)
}
