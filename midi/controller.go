package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Command is a transport request coming from a MIDI input
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandContinue
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandContinue:
		return "continue"
	case CommandStop:
		return "stop"
	}
	return "none"
}

// TranslateRealtime maps system realtime Start/Continue/Stop to a Command
func TranslateRealtime(b []byte) Command {
	if len(b) != 1 {
		return CommandNone
	}
	switch b[0] {
	case Start:
		return CommandStart
	case Continue:
		return CommandContinue
	case Stop:
		return CommandStop
	}
	return CommandNone
}

// Remote listens on an input port for transport commands
type Remote struct {
	id       string
	stopFunc func()
	commands chan Command

	mu     sync.Mutex
	closed bool
}

// NewRemote starts listening on inPort
func NewRemote(id string, inPort drivers.In) (*Remote, error) {
	r := newRemote(id)
	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		r.handle(msg.Bytes())
	})
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	r.stopFunc = stop
	return r, nil
}

// NewRemoteByName finds an input port by exact name and listens on it
func NewRemoteByName(name string) (*Remote, error) {
	for _, port := range gomidi.GetInPorts() {
		if port.String() == name {
			return NewRemote(name, port)
		}
	}
	return nil, fmt.Errorf("input port %q not found", name)
}

func newRemote(id string) *Remote {
	return &Remote{id: id, commands: make(chan Command, 8)}
}

func (r *Remote) handle(b []byte) {
	cmd := TranslateRealtime(b)
	if cmd == CommandNone {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.commands <- cmd:
	default:
	}
}

func (r *Remote) ID() string { return r.id }

// Commands is closed by Close
func (r *Remote) Commands() <-chan Command {
	return r.commands
}

func (r *Remote) Close() error {
	if r.stopFunc != nil {
		r.stopFunc()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.commands)
	}
	return nil
}
