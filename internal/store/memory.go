package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"gps-relay/internal/logging"
	"gps-relay/internal/model"
)

var (
	ErrDeviceExists   = errors.New("device already exists")
	ErrDeviceNotFound = errors.New("device not found")
	ErrSessionMissing = errors.New("session not found")
)

// Memory is a process-local Store. It backs local development and doubles as
// the fake used by the pairing, recording and ingest tests.
type Memory struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	// generation increases under mu with every snapshot; written is the
	// newest generation on disk, guarded by persistMu.
	generation uint64
	written    uint64

	devicesByID  map[string]model.Device
	sessionsByID map[string]model.Session
	rawPoints    []model.RawPoint

	points *pointStore
	seq    *seqGenerator
}

type Options struct {
	// StateFile, when set, receives a JSON snapshot after every write and is
	// loaded on construction.
	StateFile string
}

func NewMemory() *Memory {
	return NewMemoryWithOptions(Options{})
}

func NewMemoryWithOptions(opts Options) *Memory {
	m := &Memory{
		stateFile:    opts.StateFile,
		devicesByID:  make(map[string]model.Device),
		sessionsByID: make(map[string]model.Session),
		points:       newPointStore(),
		seq:          newSeqGenerator(),
	}

	if m.stateFile != "" {
		if err := m.loadFromFile(m.stateFile); err != nil {
			logging.Warn().Err(err).Str("file", m.stateFile).Msg("memory store: load failed")
		}
	}
	return m
}

type persistedState struct {
	Version  int             `json:"version"`
	Devices  []model.Device  `json:"devices"`
	Sessions []model.Session `json:"sessions"`
	Points   []pointRecord   `json:"points"`
	SavedAt  int64           `json:"savedAt"`

	generation uint64
}

func (m *Memory) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedState
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported state version")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range file.Devices {
		if d.DeviceID == "" {
			continue
		}
		m.devicesByID[d.DeviceID] = d
	}
	for _, s := range file.Sessions {
		if s.ID == "" {
			continue
		}
		m.sessionsByID[s.ID] = s
	}
	for _, rec := range file.Points {
		m.points.append(rec.Point.SessionID, rec)
		m.seq.restore(rec.Point.SessionID, rec.Seq)
	}
	return nil
}

func (m *Memory) snapshotLocked() persistedState {
	devices := make([]model.Device, 0, len(m.devicesByID))
	for _, d := range m.devicesByID {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	sessions := make([]model.Session, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })

	m.generation++
	return persistedState{
		Version:    1,
		Devices:    devices,
		Sessions:   sessions,
		Points:     m.points.snapshot(),
		generation: m.generation,
	}
}

// persist writes the snapshot through a temp file and rename. A snapshot
// older than the one already written is dropped. Failures are logged, never
// returned: the in-memory state stays authoritative.
func (m *Memory) persist(state persistedState) {
	path := m.stateFile
	if path == "" {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if state.generation <= m.written {
		return
	}
	state.SavedAt = time.Now().UnixMilli()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("memory store: mkdir failed")
		return
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logging.Warn().Err(err).Msg("memory store: marshal failed")
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		logging.Warn().Err(err).Msg("memory store: create temp failed")
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		logging.Warn().Err(err).Msg("memory store: chmod temp failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		logging.Warn().Err(err).Msg("memory store: write temp failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		logging.Warn().Err(err).Msg("memory store: sync temp failed")
		return
	}
	if err := tmp.Close(); err != nil {
		logging.Warn().Err(err).Msg("memory store: close temp failed")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		logging.Warn().Err(err).Msg("memory store: rename failed")
		return
	}
	m.written = state.generation
}

// unlockAndPersist releases m.mu, which must be held for writing, and then
// writes a snapshot when persistence is enabled.
func (m *Memory) unlockAndPersist() {
	if m.stateFile == "" {
		m.mu.Unlock()
		return
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(snapshot)
}

func (m *Memory) GetDevice(ctx context.Context, deviceID string) (model.Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devicesByID[deviceID]
	return d, ok, nil
}

func (m *Memory) CreateDevice(ctx context.Context, d model.Device) error {
	if d.DeviceID == "" {
		return errors.New("missing device id")
	}

	m.mu.Lock()
	if _, ok := m.devicesByID[d.DeviceID]; ok {
		m.mu.Unlock()
		return ErrDeviceExists
	}
	m.devicesByID[d.DeviceID] = d
	m.unlockAndPersist()
	return nil
}

func (m *Memory) UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) error {
	m.mu.Lock()
	d, ok := m.devicesByID[deviceID]
	if !ok {
		m.mu.Unlock()
		return ErrDeviceNotFound
	}

	d.LastSeenAt = patch.LastSeenAt
	if patch.PairCode != nil {
		code := *patch.PairCode
		d.PairCode = &code
	}
	if patch.PairExpiresAt != nil {
		exp := *patch.PairExpiresAt
		d.PairExpiresAt = &exp
	}
	if patch.IsRecording != nil {
		d.IsRecording = *patch.IsRecording
	}
	m.devicesByID[deviceID] = d
	m.unlockAndPersist()
	return nil
}

// LinkDevice performs the registry transition owned by the external linking
// flow. The relay never calls it while ingesting.
func (m *Memory) LinkDevice(deviceID, userID string) error {
	if userID == "" {
		return errors.New("missing user id")
	}

	m.mu.Lock()
	d, ok := m.devicesByID[deviceID]
	if !ok {
		m.mu.Unlock()
		return ErrDeviceNotFound
	}
	d.Status = model.DeviceStatusLinked
	d.UserID = &userID
	d.PairCode = nil
	d.PairExpiresAt = nil
	m.devicesByID[deviceID] = d
	m.unlockAndPersist()
	return nil
}

func (m *Memory) ListOpenSessions(ctx context.Context, deviceID string) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Session, 0)
	for _, s := range m.sessionsByID {
		if s.DeviceID == deviceID && s.Open() {
			result = append(result, s)
		}
	}
	sortSessions(result)
	return result, nil
}

func (m *Memory) CreateSession(ctx context.Context, s model.Session) (string, error) {
	if s.DeviceID == "" {
		return "", errors.New("missing device id")
	}

	s.ID = uuid.NewString()
	m.mu.Lock()
	m.sessionsByID[s.ID] = s
	m.unlockAndPersist()
	return s.ID, nil
}

func (m *Memory) CloseSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	m.mu.Lock()
	s, ok := m.sessionsByID[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionMissing
	}
	s.EndedAt = &endedAt
	m.sessionsByID[sessionID] = s
	m.unlockAndPersist()
	return nil
}

func (m *Memory) InsertPoint(ctx context.Context, p model.GPSPoint) error {
	m.mu.Lock()
	if _, ok := m.sessionsByID[p.SessionID]; !ok {
		m.mu.Unlock()
		return ErrSessionMissing
	}

	seq := m.seq.nextForSession(p.SessionID)
	p.ID = uuid.NewString()
	m.points.append(p.SessionID, pointRecord{Seq: seq, Point: p})
	m.unlockAndPersist()
	return nil
}

// InsertRawPoint keeps raw samples in memory only; they are not part of the
// snapshot.
func (m *Memory) InsertRawPoint(ctx context.Context, p model.RawPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rawPoints = append(m.rawPoints, p)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Device(deviceID string) (model.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devicesByID[deviceID]
	return d, ok
}

// Sessions lists every session of the device, open or closed, oldest first.
func (m *Memory) Sessions(deviceID string) []model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Session, 0)
	for _, s := range m.sessionsByID {
		if s.DeviceID == deviceID {
			result = append(result, s)
		}
	}
	sortSessions(result)
	return result
}

func (m *Memory) Points(sessionID string) []model.GPSPoint {
	return m.points.list(sessionID)
}

func (m *Memory) PointCount() int {
	return m.points.count()
}

func (m *Memory) RawPoints() []model.RawPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.RawPoint, len(m.rawPoints))
	copy(result, m.rawPoints)
	return result
}

func sortSessions(sessions []model.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
}
