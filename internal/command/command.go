// Package command defines the control-channel vocabulary exchanged between
// pipeline stages and the orchestrator, along with its wire format.
package command

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/benchlane/benchcore/internal/component"
)

// Tag identifies a command.
type Tag byte

// Command tags. The numbering is shared with every other platform component
// and must not change.
const (
	SystemReady            Tag = 1
	BenchmarkReady         Tag = 2
	DataGeneratorReady     Tag = 3
	TaskGeneratorReady     Tag = 4
	EvalStorageReady       Tag = 5
	EvalModuleReady        Tag = 6
	DataGeneratorStart     Tag = 7
	TaskGeneratorStart     Tag = 8
	EvalModuleFinished     Tag = 9
	EvalStorageTerminate   Tag = 10
	BenchmarkFinished      Tag = 11
	DataGenerationFinished Tag = 14
	TaskGenerationFinished Tag = 15
)

var tagNames = map[Tag]string{
	SystemReady:            "system_ready",
	BenchmarkReady:         "benchmark_ready",
	DataGeneratorReady:     "data_generator_ready",
	TaskGeneratorReady:     "task_generator_ready",
	EvalStorageReady:       "eval_storage_ready",
	EvalModuleReady:        "eval_module_ready",
	DataGeneratorStart:     "data_generator_start",
	TaskGeneratorStart:     "task_generator_start",
	EvalModuleFinished:     "eval_module_finished",
	EvalStorageTerminate:   "eval_storage_terminate",
	BenchmarkFinished:      "benchmark_finished",
	DataGenerationFinished: "data_generation_finished",
	TaskGenerationFinished: "task_generation_finished",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Known returns whether the tag belongs to the vocabulary. Unknown tags are
// valid on the wire and simply ignored by receivers.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// Command is a tag plus an opaque payload.
type Command struct {
	Tag  Tag
	Data []byte
}

// Receiver reacts to commands. Implementations must be safe to call
// concurrently with their own principal loop.
type Receiver interface {
	ReceiveCommand(cmd Command)
}

// ReceiverFunc adapts a function into a Receiver.
type ReceiverFunc func(cmd Command)

// ReceiveCommand calls f(cmd).
func (f ReceiverFunc) ReceiveCommand(cmd Command) {
	f(cmd)
}

// Sender publishes commands on the control channel.
type Sender interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// Transport is a control channel that commands can be sent over and received
// from. Every subscriber receives every command, including those it sent.
type Transport interface {
	Sender
	Subscribe(r Receiver)
}

//------------------------------------------------------------------------------

// Encode serialises a command for a session as
// [4 byte BE length][session id][1 byte tag][data].
func Encode(sessionID string, cmd Command) []byte {
	out := make([]byte, 0, 4+len(sessionID)+1+len(cmd.Data))
	out = binary.BigEndian.AppendUint32(out, uint32(len(sessionID)))
	out = append(out, sessionID...)
	out = append(out, byte(cmd.Tag))
	return append(out, cmd.Data...)
}

// Decode parses a frame produced by Encode. Malformed frames result in an error
// wrapping component.ErrProtocol.
func Decode(b []byte) (sessionID string, cmd Command, err error) {
	if len(b) < 4 {
		return "", cmd, fmt.Errorf("%w: command frame of %v bytes has no session length", component.ErrProtocol, len(b))
	}
	n := binary.BigEndian.Uint32(b[:4])
	rest := b[4:]
	if uint64(len(rest)) < uint64(n)+1 {
		return "", cmd, fmt.Errorf("%w: command frame truncated, session of %v bytes and tag expected, %v remain", component.ErrProtocol, n, len(rest))
	}
	sessionID = string(rest[:n])
	cmd.Tag = Tag(rest[n])
	if data := rest[n+1:]; len(data) > 0 {
		cmd.Data = append([]byte(nil), data...)
	}
	return sessionID, cmd, nil
}
