package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/profiles"
	"messaging-service/internal/repositories"
)

// ThreadRepository is a testify mock of repositories.ThreadRepository.
type ThreadRepository struct {
	mock.Mock
}

func (m *ThreadRepository) ResolveOrCreate(ctx context.Context, userID, otherID int64) (models.Thread, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Get(0).(models.Thread), args.Error(1)
}

func (m *ThreadRepository) CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (models.Thread, error) {
	args := m.Called(ctx, ownerID, name, memberIDs)
	return args.Get(0).(models.Thread), args.Error(1)
}

func (m *ThreadRepository) GetThread(ctx context.Context, threadID int64) (models.Thread, error) {
	args := m.Called(ctx, threadID)
	return args.Get(0).(models.Thread), args.Error(1)
}

func (m *ThreadRepository) IsParticipant(ctx context.Context, threadID, userID int64) (bool, error) {
	args := m.Called(ctx, threadID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ThreadRepository) ListForUser(ctx context.Context, userID int64, page, pageSize int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ConversationSummary), args.Error(1)
}

func (m *ThreadRepository) IncrementUnread(ctx context.Context, threadID, userID int64, delta int) error {
	args := m.Called(ctx, threadID, userID, delta)
	return args.Error(0)
}

func (m *ThreadRepository) DecrementUnread(ctx context.Context, threadID, userID int64, delta int) error {
	args := m.Called(ctx, threadID, userID, delta)
	return args.Error(0)
}

func (m *ThreadRepository) UnreadCount(ctx context.Context, threadID, userID int64) (int, error) {
	args := m.Called(ctx, threadID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ThreadRepository) UnreadCounts(ctx context.Context, threadID int64) (models.UnreadMap, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.UnreadMap), args.Error(1)
}

// MessageRepository is a testify mock of repositories.MessageRepository.
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Create(ctx context.Context, params repositories.CreateMessageParams) (models.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) GetByIDs(ctx context.Context, messageIDs []int64) ([]models.Message, error) {
	args := m.Called(ctx, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepository) ListForUser(ctx context.Context, thread models.Thread, userID int64, window repositories.ListWindow) ([]models.Message, int, error) {
	args := m.Called(ctx, thread, userID, window)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Message), args.Int(1), args.Error(2)
}

func (m *MessageRepository) Edit(ctx context.Context, messageID, editorID int64, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, editorID, content)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepository) SoftDelete(ctx context.Context, messageID, requesterID int64) (string, error) {
	args := m.Called(ctx, messageID, requesterID)
	return args.String(0), args.Error(1)
}

func (m *MessageRepository) HardDelete(ctx context.Context, messageID, requesterID int64) (string, error) {
	args := m.Called(ctx, messageID, requesterID)
	return args.String(0), args.Error(1)
}

func (m *MessageRepository) UpsertReaction(ctx context.Context, messageID, userID int64, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reaction), args.Error(1)
}

func (m *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID int64) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reaction), args.Error(1)
}

func (m *MessageRepository) Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reaction), args.Error(1)
}

func (m *MessageRepository) MarkRead(ctx context.Context, thread models.Thread, userID int64, messageIDs []int64) (int, error) {
	args := m.Called(ctx, thread, userID, messageIDs)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepository) Search(ctx context.Context, userID int64, query string, threadID *int64, page, pageSize int) ([]models.Message, error) {
	args := m.Called(ctx, userID, query, threadID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepository) LiveAttachmentPaths(ctx context.Context, ownerID int64) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// AttachmentStore is a testify mock of attachments.Store.
type AttachmentStore struct {
	mock.Mock
}

func (m *AttachmentStore) Store(ctx context.Context, ownerID int64, payload io.Reader, declaredMime string) (models.AttachmentMeta, error) {
	args := m.Called(ctx, ownerID, payload, declaredMime)
	return args.Get(0).(models.AttachmentMeta), args.Error(1)
}

func (m *AttachmentStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *AttachmentStore) List(ctx context.Context, ownerID int64, folder string) ([]models.AttachmentMeta, error) {
	args := m.Called(ctx, ownerID, folder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AttachmentMeta), args.Error(1)
}

func (m *AttachmentStore) ListPaths(ctx context.Context, ownerID int64) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Publisher is a testify mock of rabbitmq.Publisher.
type Publisher struct {
	mock.Mock
}

func (m *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *Publisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Verifier is a testify mock of identity.Verifier.
type Verifier struct {
	mock.Mock
}

func (m *Verifier) Verify(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

// Directory is a testify mock of profiles.Directory.
type Directory struct {
	mock.Mock
}

func (m *Directory) BulkProfiles(ctx context.Context, ids []int64) ([]profiles.Profile, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]profiles.Profile), args.Error(1)
}
