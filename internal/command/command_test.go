package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlane/benchcore/internal/component"
)

func TestTagString(t *testing.T) {
	assert.Equal(t, "task_generator_start", TaskGeneratorStart.String())
	assert.Equal(t, "unknown(200)", Tag(200).String())
	assert.True(t, DataGenerationFinished.Known())
	assert.False(t, Tag(12).Known())
}

func TestEncodeDecode(t *testing.T) {
	b := Encode("session-1", Command{Tag: TaskGeneratorStart, Data: []byte("go")})
	assert.Equal(t, append([]byte{0, 0, 0, 9}, []byte("session-1\x08go")...), b)

	session, cmd, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "session-1", session)
	assert.Equal(t, TaskGeneratorStart, cmd.Tag)
	assert.Equal(t, "go", string(cmd.Data))

	session, cmd, err = Decode(Encode("", Command{Tag: Tag(99)}))
	require.NoError(t, err)
	assert.Equal(t, "", session)
	assert.Equal(t, Tag(99), cmd.Tag)
	assert.Nil(t, cmd.Data)
}

func TestDecodeMalformed(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		{0, 0},
		{0, 0, 0, 3, 'a', 'b', 'c'},
		{0, 0, 0, 10, 'a'},
	} {
		_, _, err := Decode(b)
		require.Error(t, err)
		assert.True(t, errors.Is(err, component.ErrProtocol))
	}
}

type recorder struct {
	mut  sync.Mutex
	cmds []Command
}

func (r *recorder) ReceiveCommand(cmd Command) {
	r.mut.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mut.Unlock()
}

func (r *recorder) tags() []Tag {
	r.mut.Lock()
	defer r.mut.Unlock()
	var tags []Tag
	for _, c := range r.cmds {
		tags = append(tags, c.Tag)
	}
	return tags
}

func TestBusFanout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	bus := NewBus()
	a, b := &recorder{}, &recorder{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	require.NoError(t, bus.SendCommand(ctx, Command{Tag: TaskGeneratorReady}))
	require.NoError(t, bus.SendCommand(ctx, Command{Tag: TaskGeneratorStart}))
	require.NoError(t, bus.SendCommand(ctx, Command{Tag: DataGenerationFinished}))
	bus.Close()
	bus.Close()

	exp := []Tag{TaskGeneratorReady, TaskGeneratorStart, DataGenerationFinished}
	assert.Equal(t, exp, a.tags())
	assert.Equal(t, exp, b.tags())

	err := bus.SendCommand(ctx, Command{Tag: BenchmarkFinished})
	assert.True(t, errors.Is(err, component.ErrTypeClosed))
}

func TestReceiverFunc(t *testing.T) {
	var got Tag
	var r Receiver = ReceiverFunc(func(cmd Command) { got = cmd.Tag })
	r.ReceiveCommand(Command{Tag: EvalStorageTerminate})
	assert.Equal(t, EvalStorageTerminate, got)
}
