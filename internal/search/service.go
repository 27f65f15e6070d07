// Package search owns the search subprocess lifecycle: spawning the tool for
// a query generation, streaming its output through the protocol decoder, and
// killing superseded processes.
package search

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"

	"ripgrip/internal/domain"
	"ripgrip/internal/eventbus"
	"ripgrip/internal/protocol"
)

// DefaultBinary is the search tool spawned when no override is configured
const DefaultBinary = "rg"

// Service manages the single live subprocess slot. At most one process is
// registered as current; spawning for a newer generation kills the previous
// one without waiting for it to die (the generation filter downstream masks
// any residual output).
type Service struct {
	bus    eventbus.EventBus
	binary string

	mu     sync.Mutex
	cmd    *exec.Cmd      // live process, nil when none
	liveID domain.QueryID // generation the live process was spawned under
	latest domain.QueryID // newest generation ever handed to Spawn
}

// NewService creates a new search service
func NewService(bus eventbus.EventBus, binary string) *Service {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Service{
		bus:    bus,
		binary: binary,
	}
}

// Spawn starts the search tool for the given spec and generation. The
// previous process, if any, is killed first. Spawn failures are reported as
// an error summary on the bus, never returned as a crash.
func (s *Service) Spawn(spec domain.QuerySpec, id domain.QueryID) {
	s.mu.Lock()
	if id > s.latest {
		s.latest = id
	}
	s.killLocked()

	cmd := exec.Command(s.binary, BuildArgs(spec)...)
	cmd.Dir = spec.Cwd
	cmd.Stdin = nil

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		s.mu.Unlock()
		log.Printf("Failed to spawn %s for query %d: %v", s.binary, id, err)
		s.bus.Publish(eventbus.SummaryEvent{
			QueryID: id,
			Summary: domain.Summary{
				Kind:   domain.SummaryError,
				ErrMsg: spawnErrMsg(s.binary, err, stderr.String()),
			},
		})
		return
	}

	// Registration check: a newer generation may have spawned while this
	// process was starting. If so it is already stale, kill it here.
	if s.latest > id {
		s.mu.Unlock()
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return
	}

	s.cmd = cmd
	s.liveID = id
	s.mu.Unlock()

	go s.readLoop(cmd, stdout, &stderr, id)
}

// Kill terminates the current process, best-effort and without waiting.
// Reaping happens in the process's own read loop.
func (s *Service) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
}

// LiveQueryID returns the generation of the currently registered process,
// or zero when none is live
func (s *Service) LiveQueryID() domain.QueryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return 0
	}
	return s.liveID
}

func (s *Service) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			log.Printf("Failed to kill search process for query %d: %v", s.liveID, err)
		}
	}
	s.cmd = nil
}

// readLoop streams stdout chunks through the decoder and publishes decoded
// events tagged with the spawning generation. It is the only place the
// process is waited on.
func (s *Service) readLoop(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, id domain.QueryID) {
	var dec protocol.Decoder
	sawSummary := false
	buf := make([]byte, 64*1024)

	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			batch, decErr := dec.Feed(buf[:n])
			if len(batch.Records) > 0 {
				s.bus.Publish(eventbus.MatchBatchEvent{QueryID: id, Records: batch.Records})
			}
			if batch.Summary != nil {
				sawSummary = true
				s.bus.Publish(eventbus.SummaryEvent{QueryID: id, Summary: *batch.Summary})
			}
			if decErr != nil {
				// Malformed output is fatal for this query only
				log.Printf("Protocol error for query %d: %v", id, decErr)
				s.bus.Publish(eventbus.QueryErrorEvent{
					QueryID: id,
					Message: decErr.Error(),
					Err:     decErr,
				})
				s.killIfCurrent(id)
				waitErr := cmd.Wait()
				s.unregister(id)
				s.bus.Publish(eventbus.ProcessExitedEvent{QueryID: id, Err: waitErr})
				return
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	s.unregister(id)

	if waitErr != nil && !sawSummary {
		// Exit status 1 with a summary already delivered just means zero
		// matches; anything else without a summary is a real failure.
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() > 1 {
			s.bus.Publish(eventbus.SummaryEvent{
				QueryID: id,
				Summary: domain.Summary{
					Kind:   domain.SummaryError,
					ErrMsg: spawnErrMsg(s.binary, waitErr, stderr.String()),
				},
			})
		}
	}

	s.bus.Publish(eventbus.ProcessExitedEvent{QueryID: id, Err: waitErr})
}

// killIfCurrent kills the process only if it is still the registered one
func (s *Service) killIfCurrent(id domain.QueryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.liveID == id {
		s.killLocked()
	}
}

// unregister clears the live slot if it still belongs to id
func (s *Service) unregister(id domain.QueryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveID == id {
		s.cmd = nil
	}
}

func spawnErrMsg(binary string, err error, stderr string) string {
	msg := fmt.Sprintf("%s: %v", binary, err)
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		msg += ": " + trimmed
	}
	return msg
}
