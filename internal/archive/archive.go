package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Recorder receives the durable output of a session: accepted chunks as they
// are persisted, and the final roster record at closed/aborted. Downstream
// compilation consumes these; nothing in the coordinator reads them back.
type Recorder interface {
	RecordChunk(ctx context.Context, c ChunkRecord) error
	RecordSession(ctx context.Context, s SessionRecord) error
}

// SessionRecord is the terminal snapshot of one session.
type SessionRecord struct {
	ID           string `gorm:"primaryKey"`
	JoinCode     string
	ArenaType    string
	FinalState   string // "closed" or "aborted"
	AbortReason  string
	CreatedAt    time.Time
	FinishedAt   time.Time
	Participants []ParticipantRecord `gorm:"foreignKey:SessionID"`
}

// ParticipantRecord captures a camera's assignment and the contiguous chunk
// range accepted from it. HighestSeq is -1 when no chunk was accepted.
type ParticipantRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"index"`
	CameraID    string
	Position    string
	ClockOffset int64 // ms, server minus client
	FinalStatus string
	HighestSeq  int64
}

// ChunkRecord is one accepted video chunk.
type ChunkRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"index:idx_chunk_session_camera"`
	CameraID        string `gorm:"index:idx_chunk_session_camera"`
	SequenceNumber  int64
	CapturedAtLocal int64 // client clock, ms
	SizeBytes       int64
	Payload         []byte
	ReceivedAt      time.Time
}

func (SessionRecord) TableName() string     { return "session_records" }
func (ParticipantRecord) TableName() string { return "participant_records" }
func (ChunkRecord) TableName() string       { return "chunk_records" }

// Store is the PostgreSQL-backed Recorder.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to PostgreSQL and migrates the archive tables.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SessionRecord{}, &ParticipantRecord{}, &ChunkRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) RecordChunk(ctx context.Context, c ChunkRecord) error {
	return s.db.WithContext(ctx).Create(&c).Error
}

func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Memory is an in-process Recorder used when no database is configured and in
// tests.
type Memory struct {
	mu       sync.Mutex
	chunks   []ChunkRecord
	sessions []SessionRecord
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordChunk(_ context.Context, c ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, c)
	return nil
}

func (m *Memory) RecordSession(_ context.Context, s SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

// Chunks returns a copy of the recorded chunks.
func (m *Memory) Chunks() []ChunkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChunkRecord, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// Sessions returns a copy of the recorded session snapshots.
func (m *Memory) Sessions() []SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, len(m.sessions))
	copy(out, m.sessions)
	return out
}
