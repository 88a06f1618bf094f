package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-relay/internal/apperr"
	"gps-relay/internal/model"
	"gps-relay/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func point(lat, lon float64) *Point { return &Point{Latitude: lat, Longitude: lon} }

func TestApply_RecordingOpensSessionAndAppendsPoint(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	out, err := m.Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(46.1, 7.2)}, t0)
	require.NoError(t, err)
	assert.True(t, out.Opened)
	assert.True(t, out.PointAppended)

	sessions := mem.Sessions("A1")
	require.Len(t, sessions, 1)
	assert.Equal(t, out.SessionID, sessions[0].ID)
	assert.Equal(t, "U9", sessions[0].UserID)
	assert.True(t, sessions[0].StartedAt.Equal(t0))
	assert.True(t, sessions[0].Open())

	points := mem.Points(out.SessionID)
	require.Len(t, points, 1)
	assert.Equal(t, 46.1, points[0].Latitude)
	assert.Equal(t, 7.2, points[0].Longitude)
}

func TestApply_RecordingReusesOpenSession(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)
	ctx := context.Background()

	first, err := m.Apply(ctx, Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(1, 1)}, t0)
	require.NoError(t, err)
	second, err := m.Apply(ctx, Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(2, 2)}, t0.Add(time.Second))
	require.NoError(t, err)

	assert.False(t, second.Opened)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, mem.Sessions("A1"), 1)
	assert.Len(t, mem.Points(first.SessionID), 2)
}

func TestApply_StopClosesAndNextRecordingOpensNewSession(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)
	ctx := context.Background()

	first, err := m.Apply(ctx, Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(1, 1)}, t0)
	require.NoError(t, err)

	stop, err := m.Apply(ctx, Request{DeviceID: "A1", UserID: "U9", Recording: false, Point: point(1, 1)}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stop.Closed)
	assert.False(t, stop.PointAppended, "stopped uploads record no point")

	closed := mem.Sessions("A1")[0]
	require.NotNil(t, closed.EndedAt)
	assert.True(t, closed.EndedAt.Equal(t0.Add(time.Minute)))

	next, err := m.Apply(ctx, Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(3, 3)}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, next.Opened)
	assert.NotEqual(t, first.SessionID, next.SessionID)
	assert.Len(t, mem.Sessions("A1"), 2)
	assert.Len(t, mem.Points(first.SessionID), 1)
}

func TestApply_RepeatedStopIsNoop(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	for i := 0; i < 3; i++ {
		out, err := m.Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9"}, t0)
		require.NoError(t, err)
		assert.Equal(t, Outcome{}, out)
	}
	assert.Empty(t, mem.Sessions("A1"))
}

func TestApply_RecordingWithoutPointKeepsSession(t *testing.T) {
	mem := store.NewMemory()
	out, err := NewManager(mem).Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true}, t0)
	require.NoError(t, err)
	assert.True(t, out.Opened)
	assert.False(t, out.PointAppended)
	assert.Equal(t, 0, mem.PointCount())
}

type noIdentityStore struct {
	*store.Memory
}

func (noIdentityStore) CreateSession(ctx context.Context, s model.Session) (string, error) {
	return "", nil
}

func TestApply_CreateWithoutIdentityIsSoftFailure(t *testing.T) {
	mem := store.NewMemory()
	out, err := NewManager(noIdentityStore{mem}).Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(1, 1)}, t0)
	require.NoError(t, err)
	assert.True(t, out.CreateFailed)
	assert.False(t, out.PointAppended)
	assert.Equal(t, 0, mem.PointCount())
}

type failingPoints struct {
	*store.Memory
}

func (failingPoints) InsertPoint(ctx context.Context, p model.GPSPoint) error {
	return errors.New("insert timeout")
}

func TestApply_PointFailureIsStoreErrorAndSessionStays(t *testing.T) {
	mem := store.NewMemory()
	_, err := NewManager(failingPoints{mem}).Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(1, 1)}, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStore))
	assert.Len(t, mem.Sessions("A1"), 1, "earlier writes in the request are not rolled back")
}

// racingStore holds every ListOpenSessions caller until n of them have read,
// reproducing two uploads interleaving their read-then-write.
type racingStore struct {
	*store.Memory
	reads sync.WaitGroup
}

func (r *racingStore) ListOpenSessions(ctx context.Context, deviceID string) ([]model.Session, error) {
	open, err := r.Memory.ListOpenSessions(ctx, deviceID)
	r.reads.Done()
	r.reads.Wait()
	return open, err
}

func TestApply_ConcurrentRecordingMayDuplicateUntilNextWrite(t *testing.T) {
	mem := store.NewMemory()
	racing := &racingStore{Memory: mem}
	racing.reads.Add(2)
	m := NewManager(racing)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(1, 1)}, t0.Add(time.Duration(i)*time.Millisecond))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	open, err := mem.ListOpenSessions(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, open, 2, "both uploads observed no open session")

	out, err := NewManager(mem).Apply(context.Background(), Request{DeviceID: "A1", UserID: "U9", Recording: true, Point: point(2, 2)}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Closed)
	assert.Equal(t, open[0].ID, out.SessionID, "oldest open session is kept")

	open, err = mem.ListOpenSessions(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, out.SessionID, open[0].ID)
}
