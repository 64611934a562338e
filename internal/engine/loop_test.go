package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/report"
)

// lockedRecorder lets tests read what the loop goroutine sent.
type lockedRecorder struct {
	mu  sync.Mutex
	rec *recorder
}

func (l *lockedRecorder) Send(id string, msg protocol.ServerMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Send(id, msg)
}

func (l *lockedRecorder) Broadcast(msg protocol.ServerMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Broadcast(msg)
}

func (l *lockedRecorder) Close(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Close(id)
}

func (l *lockedRecorder) broadcasts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rec.broadcasts)
}

func startLoop(t *testing.T, n Notifier, cfg LoopConfig) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := NewLoop(New(DefaultPolicy(), n), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoop_TasksRunInOrder(t *testing.T) {
	loop, _ := startLoop(t, newRecorder(), LoopConfig{})

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, loop.Submit(func(*Engine) { got = append(got, i) }))
	}
	require.NoError(t, loop.Do(context.Background(), func(*Engine) {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_DoSeesEngineState(t *testing.T) {
	loop, _ := startLoop(t, newRecorder(), LoopConfig{})

	require.NoError(t, loop.Submit(func(e *Engine) { _ = e.Connect("a", "1.2.3.4") }))

	var pending int
	require.NoError(t, loop.Do(context.Background(), func(e *Engine) {
		pending = e.Stats().PendingConnections
	}))
	assert.Equal(t, 1, pending)
}

func TestLoop_RecoversFromPanic(t *testing.T) {
	loop, _ := startLoop(t, newRecorder(), LoopConfig{})

	require.NoError(t, loop.Submit(func(*Engine) { panic("boom") }))

	ran := false
	require.NoError(t, loop.Do(context.Background(), func(*Engine) { ran = true }))
	assert.True(t, ran, "the loop keeps serving after a task panics")
}

func TestLoop_SubmitAfterStop(t *testing.T) {
	loop, cancel := startLoop(t, newRecorder(), LoopConfig{})
	cancel()
	<-loop.Done()

	assert.ErrorIs(t, loop.Submit(func(*Engine) {}), ErrLoopStopped)
	assert.ErrorIs(t, loop.Do(context.Background(), func(*Engine) {}), ErrLoopStopped)
}

func TestLoop_DoHonoursContext(t *testing.T) {
	loop, _ := startLoop(t, newRecorder(), LoopConfig{})

	release := make(chan struct{})
	require.NoError(t, loop.Submit(func(*Engine) { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := loop.Do(ctx, func(*Engine) {})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLoop_StatsTicker(t *testing.T) {
	n := &lockedRecorder{rec: newRecorder()}
	startLoop(t, n, LoopConfig{StatsInterval: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return n.broadcasts() >= 2 }, time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Effects
// ---------------------------------------------------------------------------

type fakeProfiles struct {
	mu          sync.Mutex
	connections []string
	sessions    map[string]int
	reports     []string
	bans        []string
}

func (f *fakeProfiles) RecordConnection(_ context.Context, fp, country string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = append(f.connections, fp+":"+country)
	return nil
}

func (f *fakeProfiles) RecordSession(_ context.Context, fp string, messages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions == nil {
		f.sessions = make(map[string]int)
	}
	f.sessions[fp] += messages
	return nil
}

func (f *fakeProfiles) RecordReport(_ context.Context, fp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, fp)
	return nil
}

func (f *fakeProfiles) RecordBan(_ context.Context, fp, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, fp+":"+reason)
	return nil
}

type fakeBans struct {
	mu       sync.Mutex
	recorded []ban.Entry
	removed  []string
}

func (f *fakeBans) Record(_ context.Context, e ban.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, e)
	return nil
}

func (f *fakeBans) Remove(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, address)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	reports []report.Report
	err     error
}

func (f *fakeAudit) Append(_ context.Context, r report.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

type fakeStats struct {
	mu    sync.Mutex
	blobs [][]byte
}

func (f *fakeStats) PublishStats(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs = append(f.blobs, data)
	return nil
}

func TestEffects_FeedCollaborators(t *testing.T) {
	profiles := &fakeProfiles{}
	bans := &fakeBans{}
	sink := &fakeAudit{err: errors.New("sink down")}
	stats := &fakeStats{}
	fx := NewEffects(EffectsConfig{Profiles: profiles, Bans: bans, Audit: sink, Stats: stats})

	h := newHarness(t, nil, WithEffects(fx))
	h.pair("a", "b")
	require.NoError(t, h.engine.SendMessage("a", "hello there"))
	for i := 0; i < 3; i++ {
		_, err := h.engine.SubmitReport("a", "spam", "")
		require.NoError(t, err)
	}
	require.True(t, h.engine.Unban("addr-b"))
	h.engine.BroadcastStats()
	fx.Wait()

	fpA, fpB := ban.Fingerprint("addr-a"), ban.Fingerprint("addr-b")
	assert.ElementsMatch(t, []string{fpA + ":SA", fpB + ":EG"}, profiles.connections)
	assert.Equal(t, map[string]int{fpA: 1, fpB: 1}, profiles.sessions)
	assert.Equal(t, []string{fpB, fpB, fpB}, profiles.reports)
	assert.Equal(t, []string{fpB + ":" + BanReasonReports}, profiles.bans)

	require.Len(t, bans.recorded, 1)
	assert.Equal(t, "addr-b", bans.recorded[0].Address)
	assert.Equal(t, []string{"addr-b"}, bans.removed)

	assert.Len(t, sink.reports, 3, "a failing sink does not stop later reports")
	require.Len(t, stats.blobs, 1)
	assert.Contains(t, string(stats.blobs[0]), `"active_participants":1`)
}
