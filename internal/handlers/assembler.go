package handlers

import (
	"context"
	"fmt"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
)

// Assembler rebuilds the conversation sent to the LLM on every turn: the fixed system preamble, the
// stored history, then the new utterance.
type Assembler struct {
	store Store
	llm   LLM

	preamble string
	fallback string
}

// NewAssembler creates an Assembler reading history from store and sending it to llm. The fallback is
// returned in place of an empty reply.
func NewAssembler(store Store, llm LLM, preamble, fallback string) Assembler {
	return Assembler{
		store:    store,
		llm:      llm,
		preamble: preamble,
		fallback: fallback,
	}
}

// Assemble returns the preamble as a system message, followed by history in its original order,
// followed by utterance as a user message. The history slice is not modified.
func Assemble(preamble string, history []models.Message, utterance string) []models.Message {
	msgs := make([]models.Message, 0, len(history)+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: preamble})
	msgs = append(msgs, history...)
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: utterance})
	return msgs
}

// Reply sends one round trip to the LLM for the given user message and returns the reply text.
//
// The utterance is expected to be already stored, as the turn persists it before asking for a reply.
// Only messages stored before it are used as history, so it is sent once, last. An utterance with a
// zero ID isn't stored and every stored message counts as history.
func (a Assembler) Reply(ctx context.Context, utterance models.Message) (string, error) {
	stored, err := a.store.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get messages: %w", err)
	}

	history := stored
	if utterance.ID != 0 {
		history = make([]models.Message, 0, len(stored))
		for _, msg := range stored {
			if msg.ID < utterance.ID {
				history = append(history, msg)
			}
		}
	}

	reply, err := a.llm.Chat(ctx, Assemble(a.preamble, history, utterance.Content))
	if err != nil {
		return "", err
	}
	if reply == "" {
		return a.fallback, nil
	}
	return reply, nil
}
