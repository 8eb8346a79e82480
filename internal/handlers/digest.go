package handlers

import (
	"fmt"
	"sort"

	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/types"
)

// UnseenDigest sends each user with unseen messages one daily e-mail with
// their count. Triggered by the digest cron kind; the tick-derived
// idempotency key makes each day its own run.
type UnseenDigest struct {
	messages    types.MessageStore
	users       types.UserStore
	mailer      types.Mailer
	frontendURL string
}

// NewUnseenDigest creates the daily unseen-message digest workflow.
func NewUnseenDigest(messages types.MessageStore, users types.UserStore, mailer types.Mailer, frontendURL string) *UnseenDigest {
	return &UnseenDigest{
		messages:    messages,
		users:       users,
		mailer:      mailer,
		frontendURL: frontendURL,
	}
}

// Steps returns the ordered step sequence.
func (h *UnseenDigest) Steps() []engine.Step {
	return []engine.Step{
		{Name: "send-digest-emails", Fn: h.sendDigests},
	}
}

func (h *UnseenDigest) sendDigests(sc *engine.StepContext) (any, error) {
	msgs, err := h.messages.FindUnseen(sc.Ctx)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("find unseen messages: %w", err))
	}

	counts := make(map[types.UserID]int)
	for _, msg := range msgs {
		counts[msg.ToUserID]++
	}

	// Sorted recipients keep logs and tests deterministic.
	recipients := make([]types.UserID, 0, len(counts))
	for id := range counts {
		recipients = append(recipients, id)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	sent := 0
	for _, id := range recipients {
		user, err := h.users.FindByID(sc.Ctx, id)
		if err != nil {
			if types.IsNotFound(err) {
				// A vanished recipient skips that recipient, not the batch.
				continue
			}
			return nil, types.Transient(fmt.Errorf("lookup digest recipient %s: %w", id, err))
		}

		email := digestEmail(user, counts[id], h.frontendURL)
		if err := h.mailer.Send(sc.Ctx, email); err != nil {
			return nil, wrapMailErr(err)
		}
		sent++
	}
	return map[string]int{"recipients": sent}, nil
}
