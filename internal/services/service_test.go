package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/calebmoran/longbox-backend/internal/bus"
	"github.com/calebmoran/longbox-backend/internal/config"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/repos"
	"github.com/calebmoran/longbox-backend/internal/types"
)

// testEnv wires the full service stack against an in-memory sqlite store.
type testEnv struct {
	db  *gorm.DB
	cfg *config.Config

	userRepo     repos.UserRepo
	threadRepo   repos.ThreadRepo
	sessionRepo  repos.SessionRepo
	eventRepo    repos.EventRepo
	snapshotRepo repos.SnapshotRepo

	queue    QueueService
	snapshot SnapshotService
	session  SessionService
	selector SelectorService
	rating   RatingService
	threads  ThreadService

	userID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// A single connection keeps the shared in-memory database alive for the
	// whole test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.AutoMigrate(
		&types.User{},
		&types.Thread{},
		&types.Session{},
		&types.Event{},
		&types.Snapshot{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewNop()
	cfg := config.Default()
	writeBus := bus.New(log)

	userRepo := repos.NewUserRepo(gdb, log)
	threadRepo := repos.NewThreadRepo(gdb, log)
	sessionRepo := repos.NewSessionRepo(gdb, log)
	eventRepo := repos.NewEventRepo(gdb, log)
	snapshotRepo := repos.NewSnapshotRepo(gdb, log)

	queue := NewQueueService(gdb, log, cfg, threadRepo, eventRepo, sessionRepo, writeBus)
	snapshot := NewSnapshotService(gdb, log, threadRepo, sessionRepo, eventRepo, snapshotRepo, queue, writeBus)
	session := NewSessionService(gdb, log, cfg, userRepo, sessionRepo, eventRepo, snapshot, writeBus)
	selector := NewSelectorService(gdb, log, session, queue, threadRepo, sessionRepo, eventRepo, writeBus, nil)
	rating := NewRatingService(gdb, log, cfg, session, queue, snapshot, threadRepo, sessionRepo, eventRepo, writeBus)
	threads := NewThreadService(gdb, log, threadRepo, eventRepo, queue, writeBus)

	env := &testEnv{
		db:           gdb,
		cfg:          cfg,
		userRepo:     userRepo,
		threadRepo:   threadRepo,
		sessionRepo:  sessionRepo,
		eventRepo:    eventRepo,
		snapshotRepo: snapshotRepo,
		queue:        queue,
		snapshot:     snapshot,
		session:      session,
		selector:     selector,
		rating:       rating,
		threads:      threads,
		userID:       uuid.New(),
	}

	if _, err := userRepo.Create(context.Background(), nil, []*types.User{{
		ID:        env.userID,
		Name:      "Reader",
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return env
}

// setNow pins every service clock to the given instant.
func (e *testEnv) setNow(t *testing.T, now time.Time) {
	t.Helper()
	clock := func() time.Time { return now }
	e.queue.(*queueService).now = clock
	e.snapshot.(*snapshotService).now = clock
	e.session.(*sessionService).now = clock
	e.selector.(*selectorService).now = clock
	e.rating.(*ratingService).now = clock
	e.threads.(*threadService).now = clock
}

// seedThreads creates n active threads titled "Thread 1".."Thread n" at queue
// positions 1..n, each with the given issue count.
func (e *testEnv) seedThreads(t *testing.T, n, issues int) []*types.Thread {
	t.Helper()
	created := make([]*types.Thread, 0, n)
	for i := 1; i <= n; i++ {
		thread := &types.Thread{
			ID:              uuid.New(),
			UserID:          e.userID,
			Title:           fmt.Sprintf("Thread %d", i),
			IssuesRemaining: issues,
			QueuePosition:   i,
			Status:          types.ThreadStatusActive,
			CreatedAt:       time.Now().UTC(),
		}
		if _, err := e.threadRepo.Create(context.Background(), nil, []*types.Thread{thread}); err != nil {
			t.Fatalf("seed thread %d: %v", i, err)
		}
		created = append(created, thread)
	}
	return created
}

// activeOrder returns the user's active thread titles in queue order and
// fails the test if positions are not exactly 1..N.
func (e *testEnv) activeOrder(t *testing.T) []string {
	t.Helper()
	threads, err := e.threadRepo.GetActiveByUserID(context.Background(), nil, e.userID, false)
	if err != nil {
		t.Fatalf("load active threads: %v", err)
	}
	titles := make([]string, 0, len(threads))
	for i, th := range threads {
		if th.QueuePosition != i+1 {
			t.Fatalf("queue not dense: %q at position %d, want %d", th.Title, th.QueuePosition, i+1)
		}
		titles = append(titles, th.Title)
	}
	return titles
}

func (e *testEnv) openSession(t *testing.T) *types.Session {
	t.Helper()
	session, err := e.session.GetOrCreate(context.Background(), e.userID)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	return session
}

func (e *testEnv) reloadSession(t *testing.T, id uuid.UUID) *types.Session {
	t.Helper()
	session, err := e.sessionRepo.GetByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if session == nil {
		t.Fatalf("session %s disappeared", id)
	}
	return session
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
