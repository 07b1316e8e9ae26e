package service

import (
	"context"
	"sync"
	"time"

	"pingup/internal/models"
	"pingup/internal/registry"
	"pingup/pkg/email"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type mockDirectoryDB struct {
	mock.Mock
}

func (m *mockDirectoryDB) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *mockDirectoryDB) SaveUserProfile(ctx context.Context, profile *models.UserProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *mockDirectoryDB) DeleteUserProfile(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockDirectoryDB) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	args := m.Called(ctx, username, exceptID)
	return args.Bool(0), args.Error(1)
}

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	args := m.Called(ctx, msg)
	if fn, ok := args.Get(0).(func(context.Context, *models.Message) *models.Message); ok {
		return fn(ctx, msg), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	args := m.Called(ctx, data, filename)
	return args.String(0), args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg email.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockRunStore struct {
	mock.Mock
}

func (m *mockRunStore) PurgeFinishedRuns(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRunStore) CountRunsByStatus(ctx context.Context) (map[models.RunStatus]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.RunStatus]int), args.Error(1)
}

// fakeStream records the events pushed to it.
type fakeStream struct {
	id string

	mu     sync.Mutex
	events []registry.Event
	closed bool
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Send(ev registry.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) Events() []registry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.Event(nil), s.events...)
}
