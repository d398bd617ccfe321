package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/apperr"
)

func TestMessageTypeValidation(t *testing.T) {
	assert.True(t, TypeText.Valid())
	assert.True(t, TypeImage.Valid())
	assert.True(t, TypeLocation.Valid())
	assert.False(t, MessageType("gif").Valid())

	assert.False(t, TypeText.RequiresAttachment())
	assert.True(t, TypeImage.RequiresAttachment())
	assert.True(t, TypeFile.RequiresAttachment())
}

func TestValidateNewRejectsSelfSend(t *testing.T) {
	err := ValidateNew(7, 7, "hi", TypeText, NullAttachment{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestValidateNewContentRules(t *testing.T) {
	require.NoError(t, ValidateNew(1, 2, "hello", TypeText, NullAttachment{}))

	err := ValidateNew(1, 2, "   ", TypeText, NullAttachment{})
	require.Error(t, err)

	err = ValidateNew(1, 2, strings.Repeat("x", MaxContentLength+1), TypeText, NullAttachment{})
	require.Error(t, err)

	// Exactly at the limit is fine.
	require.NoError(t, ValidateNew(1, 2, strings.Repeat("x", MaxContentLength), TypeText, NullAttachment{}))
}

func TestValidateNewAttachmentRequirement(t *testing.T) {
	err := ValidateNew(1, 2, "photo", TypeImage, NullAttachment{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	att := SomeAttachment(AttachmentMeta{Path: "1/image/a.jpg", Mime: "image/jpeg"})
	require.NoError(t, ValidateNew(1, 2, "photo", TypeImage, att))
}

func TestEditableByWindow(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{SenderID: 1, CreatedAt: created}

	require.NoError(t, msg.EditableBy(1, created.Add(23*time.Hour+59*time.Minute)))

	// The boundary itself still passes.
	require.NoError(t, msg.EditableBy(1, created.Add(EditWindow)))

	err := msg.EditableBy(1, created.Add(EditWindow+time.Minute))
	require.Error(t, err)
	assert.Equal(t, apperr.KindEditWindowExpired, apperr.KindOf(err))
}

func TestEditableByOwnershipAndState(t *testing.T) {
	now := time.Now()
	msg := Message{SenderID: 1, CreatedAt: now}

	err := msg.EditableBy(2, now)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	msg.IsDeleted = true
	err = msg.EditableBy(1, now)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestDeletableBy(t *testing.T) {
	msg := Message{SenderID: 1}
	require.NoError(t, msg.DeletableBy(1))

	err := msg.DeletableBy(2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLifecycleState(t *testing.T) {
	msg := Message{}
	assert.Equal(t, StateActive, msg.State())

	msg.IsDeleted = true
	assert.Equal(t, StateDeletedSoft, msg.State())

	assert.Equal(t, "deleted_soft", StateDeletedSoft.String())
	assert.Equal(t, "purged", StatePurged.String())
}

func TestAddressedTo(t *testing.T) {
	recipient := int64(2)
	direct := Message{SenderID: 1, RecipientID: &recipient}
	assert.True(t, direct.AddressedTo(2))
	assert.False(t, direct.AddressedTo(1))
	assert.False(t, direct.AddressedTo(3))

	group := Message{SenderID: 1}
	assert.True(t, group.AddressedTo(2))
	assert.True(t, group.AddressedTo(3))
	assert.False(t, group.AddressedTo(1))
}
