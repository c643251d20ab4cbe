package pagination

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Sternrassler/scrollfeed/internal/testutil"
	"github.com/Sternrassler/scrollfeed/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaginator(t *testing.T) (*Paginator, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock()
	return New(Config{Clock: clk}), clk
}

// requirePrefix checks the revealed-prefix invariant.
func requirePrefix(t *testing.T, full []record.Record, s Snapshot) {
	t.Helper()
	require.LessOrEqual(t, 0, s.Cursor)
	require.LessOrEqual(t, s.Cursor, s.Total)
	require.Equal(t, len(full), s.Total)
	require.Len(t, s.Revealed, s.Cursor)
	if s.Cursor > 0 {
		require.Equal(t, full[:s.Cursor], s.Revealed)
	}
}

func TestNew(t *testing.T) {
	p, _ := newTestPaginator(t)
	s := p.Snapshot()

	assert.Equal(t, StateIdle, s.State)
	assert.True(t, s.InitialLoading)
	assert.Equal(t, 0, s.Cursor)
	assert.Equal(t, 0, s.Total)
	assert.Empty(t, s.Revealed)
}

func TestNew_DefaultClock(t *testing.T) {
	p := New(Config{})
	assert.NotNil(t, p.clock)
}

func TestAdvance_BeforeLoad(t *testing.T) {
	p, clk := newTestPaginator(t)

	assert.False(t, p.Advance())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, StateIdle, p.Snapshot().State)
}

// FullSet of 12 records, batch 5.
func TestScenario_TwelveRecords(t *testing.T) {
	p, clk := newTestPaginator(t)
	full := testutil.Records(12)

	require.NoError(t, p.Load(full))
	s := p.Snapshot()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, testutil.IDs(s.Revealed))
	assert.Equal(t, 5, s.Cursor)
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.InitialLoading)

	require.True(t, p.Advance())
	assert.Equal(t, StateLoading, p.Snapshot().State)
	assert.Equal(t, 5, p.Snapshot().Cursor, "nothing revealed before the delay")

	clk.Advance(RevealDelay - 1)
	assert.Equal(t, StateLoading, p.Snapshot().State)

	clk.Advance(1)
	s = p.Snapshot()
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, testutil.IDs(s.Revealed))
	assert.Equal(t, 10, s.Cursor)
	assert.Equal(t, StateIdle, s.State)

	require.True(t, p.Advance())
	clk.Advance(RevealDelay)
	s = p.Snapshot()
	assert.Equal(t, full, s.Revealed)
	assert.Equal(t, 12, s.Cursor)
	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, 0, s.Remaining())
}

func TestScenario_EmptySet(t *testing.T) {
	p, clk := newTestPaginator(t)

	require.NoError(t, p.Load(nil))
	s := p.Snapshot()
	assert.Empty(t, s.Revealed)
	assert.Equal(t, 0, s.Cursor)
	assert.Equal(t, StateExhausted, s.State)
	assert.False(t, s.InitialLoading)

	assert.False(t, p.Advance())
	assert.Equal(t, 0, clk.Pending())
}

func TestScenario_FetchFailed(t *testing.T) {
	p, _ := newTestPaginator(t)
	fetchErr := errors.New("connection refused")

	require.NoError(t, p.Fail(fetchErr))
	s := p.Snapshot()
	assert.False(t, s.InitialLoading)
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, fetchErr, s.Err)
	assert.Empty(t, s.Revealed)
	assert.Equal(t, 0, s.Total)

	assert.False(t, p.Advance())
	assert.Equal(t, StateFailed, p.Snapshot().State)
}

func TestAdvance_RevealsEverything(t *testing.T) {
	for n := 0; n <= 23; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			p, clk := newTestPaginator(t)
			full := testutil.Records(n)
			require.NoError(t, p.Load(full))
			requirePrefix(t, full, p.Snapshot())

			batches := (n + BatchSize - 1) / BatchSize
			prev := p.Snapshot().Cursor
			// The first batch is seeded by Load; the rest need an advance each.
			for i := 1; i < batches; i++ {
				require.True(t, p.Advance(), "advance %d", i)
				clk.Advance(RevealDelay)

				s := p.Snapshot()
				requirePrefix(t, full, s)
				require.Greater(t, s.Cursor, prev, "revealed set grows")
				prev = s.Cursor
			}

			s := p.Snapshot()
			assert.Equal(t, StateExhausted, s.State)
			assert.Equal(t, n, s.Cursor)
			if n > 0 {
				assert.Equal(t, full, s.Revealed)
			}
			assert.False(t, p.Advance())
		})
	}
}

func TestAdvance_WhileLoadingIsNoop(t *testing.T) {
	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(20)))

	require.True(t, p.Advance())
	before := p.Snapshot()

	for i := 0; i < 3; i++ {
		assert.False(t, p.Advance())
	}
	after := p.Snapshot()
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, before.Revealed, after.Revealed)
	assert.Equal(t, before.Version, after.Version, "ignored advances do not change state")
	assert.Equal(t, 1, clk.Pending(), "only one reveal in flight")

	clk.Advance(RevealDelay)
	assert.Equal(t, 10, p.Snapshot().Cursor)
}

func TestAdvance_ExhaustedIsNoop(t *testing.T) {
	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(7)))
	require.True(t, p.Advance())
	clk.Advance(RevealDelay)

	before := p.Snapshot()
	require.Equal(t, StateExhausted, before.State)

	for i := 0; i < 3; i++ {
		assert.False(t, p.Advance())
		clk.Advance(RevealDelay)
	}
	assert.Equal(t, before, p.Snapshot())
}

func TestLoad_Twice(t *testing.T) {
	p, _ := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(3)))

	assert.ErrorIs(t, p.Load(testutil.Records(9)), ErrAlreadyLoaded)
	assert.ErrorIs(t, p.Fail(errors.New("late")), ErrAlreadyLoaded)
	assert.Equal(t, 3, p.Snapshot().Total)
	assert.Equal(t, StateExhausted, p.Snapshot().State)
}

func TestLoad_CopiesInput(t *testing.T) {
	p, _ := newTestPaginator(t)
	input := testutil.Records(6)
	require.NoError(t, p.Load(input))

	input[0].Title = "mutated"
	assert.Equal(t, "title 1", p.Snapshot().Revealed[0].Title)
}

func TestSnapshot_RevealedIsClipped(t *testing.T) {
	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(12)))

	s := p.Snapshot()
	assert.Equal(t, len(s.Revealed), cap(s.Revealed))

	// Appending to a snapshot must not leak into later reveals.
	_ = append(s.Revealed, record.Record{ID: 999})
	require.True(t, p.Advance())
	clk.Advance(RevealDelay)
	assert.Equal(t, 6, p.Snapshot().Revealed[5].ID)
}

func TestDispose_CancelsPendingReveal(t *testing.T) {
	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(12)))
	require.True(t, p.Advance())

	before := p.Snapshot()
	p.Dispose()
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(RevealDelay)
	after := p.Snapshot()
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, before.Version, after.Version)

	assert.False(t, p.Advance())
	assert.ErrorIs(t, p.Load(nil), ErrDisposed)
	assert.ErrorIs(t, p.Fail(errors.New("x")), ErrDisposed)

	p.Dispose()
}

// A reveal whose timer already fired but has not run yet must not mutate
// a disposed paginator.
func TestDispose_FiredRevealIsDropped(t *testing.T) {
	p, _ := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(12)))
	require.True(t, p.Advance())

	seq := p.advanceSeq
	p.Dispose()
	p.reveal(seq)

	s := p.Snapshot()
	assert.Equal(t, 5, s.Cursor)
	assert.Equal(t, StateLoading, s.State)
}

func TestReveal_StaleSequenceIsDropped(t *testing.T) {
	p, _ := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(12)))
	require.True(t, p.Advance())

	p.reveal(p.advanceSeq - 1)
	assert.Equal(t, 5, p.Snapshot().Cursor)
}

func TestSubscribe(t *testing.T) {
	p, clk := newTestPaginator(t)

	var got []Snapshot
	unsubscribe := p.Subscribe(func(s Snapshot) {
		got = append(got, s)
	})

	require.NoError(t, p.Load(testutil.Records(8)))
	require.True(t, p.Advance())
	clk.Advance(RevealDelay)

	require.Len(t, got, 3)
	assert.Equal(t, StateIdle, got[0].State)
	assert.Equal(t, 5, got[0].Cursor)
	assert.Equal(t, StateLoading, got[1].State)
	assert.Equal(t, StateExhausted, got[2].State)
	assert.Equal(t, 8, got[2].Cursor)
	assert.Less(t, got[0].Version, got[1].Version)
	assert.Less(t, got[1].Version, got[2].Version)

	unsubscribe()
	unsubscribe()
	assert.False(t, p.Advance())
	assert.Len(t, got, 3)
}

func TestSubscribe_CallbackMayReenter(t *testing.T) {
	p, clk := newTestPaginator(t)

	// Advancing from inside a notification must not deadlock.
	p.Subscribe(func(s Snapshot) {
		if s.State == StateIdle && s.HasMore() {
			p.Advance()
		}
	})

	require.NoError(t, p.Load(testutil.Records(17)))
	for i := 0; i < 4; i++ {
		clk.Advance(RevealDelay)
	}

	s := p.Snapshot()
	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, 17, s.Cursor)
}

func TestSubscribe_AfterDispose(t *testing.T) {
	p, _ := newTestPaginator(t)
	p.Dispose()

	called := false
	unsubscribe := p.Subscribe(func(Snapshot) { called = true })
	unsubscribe()
	assert.False(t, called)
}

func TestAdvance_Concurrent(t *testing.T) {
	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(30)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Advance() {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started, "exactly one concurrent advance wins")
	clk.Advance(RevealDelay)
	assert.Equal(t, 10, p.Snapshot().Cursor)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateLoading, "loading"},
		{StateExhausted, "exhausted"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestPaginator_ProgressLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	p, clk := newTestPaginator(t)
	require.NoError(t, p.Load(testutil.Records(7)))
	require.True(t, p.Advance())
	clk.Advance(RevealDelay)

	levels := map[string]string{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		levels[line.Message] = line.Level
	}

	for _, msg := range []string{"Record set loaded", "Batch reveal scheduled", "Batch revealed"} {
		assert.Equal(t, "debug", levels[msg], msg)
	}
}
