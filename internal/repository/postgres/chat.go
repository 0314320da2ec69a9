package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
)

type chatRepository struct {
	BaseRepository
}

func NewChatRepository(base BaseRepository) repository.ChatRepository {
	return &chatRepository{base}
}

func (r *chatRepository) GetMessage(ctx context.Context, id uuid.UUID) (*model.ChatMessage, error) {
	query := `
		SELECT id, chat_id, sender_id, body, created_at
		FROM chat_messages
		WHERE id = $1
	`
	var msg model.ChatMessage
	err := r.db.GetContext(ctx, &msg, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat message: %w", err)
	}
	return &msg, nil
}

func (r *chatRepository) GetParticipants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM chat_participants
		WHERE chat_id = $1
	`
	var participants []uuid.UUID
	err := r.db.SelectContext(ctx, &participants, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat participants: %w", err)
	}
	return participants, nil
}
