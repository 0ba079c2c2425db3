// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package capture drains process output streams in the background and keeps their tail.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

var ErrNotRunning = errors.New("capture service is not running")

// Service owns background readers. It must be started with Start before use
// and stopped with Stop, which closes readers that are still running and waits for them.
type Service struct {
	mu      sync.Mutex
	eg      *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	readers map[*Tail]io.ReadCloser
	running bool
	stopped bool
}

func NewService() *Service {
	return &Service{
		readers: make(map[*Tail]io.ReadCloser),
	}
}

// Start starts the service. Cancellation of ctx has the same effect as Stop,
// except that it does not wait for the readers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eg != nil {
		return fmt.Errorf("capture service is already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.eg, s.ctx = errgroup.WithContext(ctx)
	s.running = true
	s.eg.Go(func() error {
		<-s.ctx.Done()
		s.shutdown()
		return nil
	})
	return nil
}

// Stop closes all running readers and waits for the background tasks to finish.
// Only the first call stops the service, the following ones return ErrNotRunning.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.eg == nil || s.stopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	return s.eg.Wait()
}

func (s *Service) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	for _, r := range s.readers {
		r.Close()
	}
}

// Tail is the result of a background read of a stream.
type Tail struct {
	done chan struct{}
	data []byte
	once sync.Once
}

// Tail starts draining r in the background into two size-byte buffers that are filled alternately.
// When the stream ends (EOF or a read error), the result is the filled part of the previous buffer
// followed by the filled part of the current buffer. So at least the last size bytes are kept.
// r is closed when draining finishes.
func (s *Service) Tail(r io.ReadCloser, size int) (*Tail, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bad tail size %v", size)
	}
	t := &Tail{done: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	s.readers[t] = r
	s.eg.Go(func() error {
		t.data = drain(r, size)
		s.mu.Lock()
		delete(s.readers, t)
		s.mu.Unlock()
		r.Close()
		close(t.done)
		return nil
	})
	return t, nil
}

// Wait blocks until the stream ends and returns the captured bytes.
// The data is handed out only once, subsequent calls return nil.
func (t *Tail) Wait() []byte {
	<-t.done
	var res []byte
	t.once.Do(func() {
		res, t.data = t.data, nil
	})
	return res
}

// Done is closed when the stream ends.
func (t *Tail) Done() <-chan struct{} {
	return t.done
}

func drain(r io.Reader, size int) []byte {
	bufs := [2][]byte{make([]byte, size), make([]byte, size)}
	var lens [2]int
	for {
		lens[0] = 0
		eof := false
		for lens[0] != size {
			n, err := r.Read(bufs[0][lens[0]:])
			lens[0] += n
			if err != nil {
				if errors.Is(err, syscall.EINTR) {
					continue
				}
				eof = true
				break
			}
		}
		if eof {
			break
		}
		bufs[0], bufs[1] = bufs[1], bufs[0]
		lens[0], lens[1] = lens[1], lens[0]
	}
	res := make([]byte, 0, lens[0]+lens[1])
	res = append(res, bufs[1][:lens[1]]...)
	return append(res, bufs[0][:lens[0]]...)
}
