package nicapture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func configuredSimTask(t *testing.T, inst *SimInstrument, total int) *SimTask {
	t.Helper()
	task, err := inst.CreateTask("test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := task.ConfigureClock(1000.4, Rising, FiniteSamples, total); err != nil {
		t.Fatal(err)
	}
	return task.(*SimTask)
}

func TestSimTaskReadAuto(t *testing.T) {
	inst := NewSimInstrument(2)
	task := configuredSimTask(t, inst, 20)
	assert.Equal(t, 1000.0, task.Rate(), "rate coerced to whole Hz")
	buf := make([]float64, 8*DevNumChannels)

	_, err := task.Read(context.Background(), ReadAuto, 0, buf)
	var herr *HardwareError
	if !errors.As(err, &herr) || herr.Code != SimErrTaskNotRunning {
		t.Errorf("Read before Start returned %v, want task-not-running", err)
	}

	task.Start()
	n, err := task.Read(context.Background(), ReadAuto, 0, buf)
	assert.NoError(t, err)
	assert.Zero(t, n, "nothing available before the trigger")

	inst.Trigger()
	inst.Chunk = 3
	n, _ = task.Read(context.Background(), ReadAuto, 0, buf)
	assert.Equal(t, 3, n, "Chunk caps a ReadAuto")
	inst.Chunk = 0
	n, _ = task.Read(context.Background(), ReadAuto, 0, buf)
	assert.Equal(t, 8, n, "buffer capacity caps a ReadAuto")
	assert.Equal(t, DefaultWaveform(0, 3, 0), buf[0])

	_, err = task.Read(context.Background(), 10, WaitInfinitely, buf)
	assert.Error(t, err, "count above buffer capacity")
	n, err = task.Read(context.Background(), 8, WaitInfinitely, buf)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	_, err = task.Read(context.Background(), 2, WaitInfinitely, buf)
	if !errors.As(err, &herr) || herr.Code != SimErrReadPastEnd {
		t.Errorf("read past end returned %v, want read-past-end", err)
	}
	n, _ = task.Read(context.Background(), ReadAuto, 0, buf)
	assert.Equal(t, 1, n, "ReadAuto returns the rest of the task")
	assert.Equal(t, []int{ReadAuto, ReadAuto, ReadAuto, ReadAuto, 10, 8, 2, ReadAuto}, task.Requests())
}

func TestSimTaskBlockingRead(t *testing.T) {
	inst := NewSimInstrument(1)
	task := configuredSimTask(t, inst, 10)
	task.Start()
	buf := make([]float64, DevNumChannels)
	go func() {
		time.Sleep(10 * time.Millisecond)
		inst.Trigger()
	}()
	n, err := task.Read(context.Background(), 1, WaitInfinitely, buf)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	task.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = task.Read(ctx, 1, WaitInfinitely, buf)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimOverloadClearsOnRead(t *testing.T) {
	inst := NewSimInstrument(1)
	task := configuredSimTask(t, inst, 10)
	inst.InjectOverload("ai2")
	ovl, err := task.OverloadOccurred()
	assert.NoError(t, err)
	assert.True(t, ovl)
	chans, _ := task.OverloadChannels()
	assert.Equal(t, "ai2", chans)
	ovl, _ = task.OverloadOccurred()
	assert.False(t, ovl, "second check after one injection")
}

func TestSimFailAndClear(t *testing.T) {
	inst := NewSimInstrument(1)
	task := configuredSimTask(t, inst, 10)
	boom := &HardwareError{Op: "Start", Code: SimErrResourceReserved}
	inst.Fail("Start", boom)
	assert.Equal(t, boom, task.Start())
	inst.Fail("Start", nil)
	assert.NoError(t, task.Start())
	assert.NoError(t, task.Clear())
	assert.Error(t, task.Start(), "cleared task")
	assert.Equal(t, 1, task.Clears())
	assert.Error(t, task.ConfigureTrigger(Falling, 2))
	assert.True(t, inst.IsFatal(SimErrReadPastEnd))
	assert.False(t, inst.IsFatal(SimWarnCoercedRate))
}

func TestSimInspect(t *testing.T) {
	inst := NewSimInstrument(1)
	inst.AutoTrigger = true
	configuredSimTask(t, inst, 10)
	text := inst.Inspect()
	assert.True(t, strings.HasPrefix(text, "SimInstrument autotrigger=true"), text)
	assert.Contains(t, text, "SimTask")
}
