// Package pipeline implements §4.G, the message pipeline: authorization, rate limiting, sanitization
// and mention/sound-command extraction, deduplicated persistence, and post-commit fan-out to live
// subscribers, webhook bots, and offline push recipients.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/authz"
	"github.com/campfire-chat/campfire-server/internal/connmgr"
	"github.com/campfire-chat/campfire-server/internal/ratelimit"
	"github.com/campfire-chat/campfire-server/internal/sanitize"
	"github.com/campfire-chat/campfire-server/internal/soundboard"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// ErrRateLimited is returned when the acting user has exceeded the message-creation rate limit.
var ErrRateLimited = errors.New("message rate limit exceeded")

// ErrIdempotencyConflict is returned when the client-supplied message id already exists with a
// different body or creator (§4.G step 5).
var ErrIdempotencyConflict = errors.New("message id already used with a different payload")

// BotDispatcher receives webhook delivery jobs for a newly committed message (§4.H). Implemented by
// internal/bot; declared here so this package does not import its consumer.
type BotDispatcher interface {
	Dispatch(bot store.User, msg store.Message)
}

// PushDispatcher receives push notification jobs for a newly committed message (§4.I). Implemented by
// internal/push.
type PushDispatcher interface {
	Dispatch(userID uuid.UUID, msg store.Message)
}

// CreateMessageRequest is the input to Pipeline.CreateMessage. ActorUserID is the already-authenticated
// user on whose behalf the message is posted — either the session holder, or (for bot-authored
// messages) the bot account itself.
type CreateMessageRequest struct {
	RoomID      uuid.UUID
	ID          uuid.UUID
	Body        string
	ActorUserID uuid.UUID
}

// Pipeline wires together every stage of §4.G's create_message operation.
type Pipeline struct {
	store     *store.Store
	authz     *authz.Authorizer
	limiter   *ratelimit.Limiter
	sanitizer *sanitize.Sanitizer
	conns     *connmgr.Manager
	bots      BotDispatcher
	push      PushDispatcher
	log       zerolog.Logger
}

func New(
	st *store.Store,
	az *authz.Authorizer,
	limiter *ratelimit.Limiter,
	sanitizer *sanitize.Sanitizer,
	conns *connmgr.Manager,
	bots BotDispatcher,
	push PushDispatcher,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:     st,
		authz:     az,
		limiter:   limiter,
		sanitizer: sanitizer,
		conns:     conns,
		bots:      bots,
		push:      push,
		log:       logger.With().Str("component", "pipeline").Logger(),
	}
}

// CreateMessage runs §4.G's full create_message pipeline. Errors returned before persist (steps 1-5)
// carry no side effects; a Duplicate id returns the previously stored message with no error, since a
// retried idempotent request is success, not failure. Fan-out errors after persist are never returned
// to the caller — they are logged and the message remains committed.
func (p *Pipeline) CreateMessage(ctx context.Context, req CreateMessageRequest) (*store.Message, error) {
	canWrite, err := p.authz.CanWrite(ctx, req.RoomID, req.ActorUserID)
	if err != nil {
		return nil, fmt.Errorf("authorize write: %w", err)
	}
	if !canWrite {
		return nil, authz.ErrForbidden
	}
	if err := p.authz.EnsureMember(ctx, req.RoomID, req.ActorUserID); err != nil {
		return nil, fmt.Errorf("ensure member: %w", err)
	}

	if !p.limiter.AllowMessage(req.ActorUserID) {
		return nil, ErrRateLimited
	}

	members, err := p.store.MemberNameIndex(ctx, req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load member name index: %w", err)
	}

	mentions := sanitize.ExtractMentions(req.Body, members)
	soundCommand := sanitize.ExtractSoundCommand(req.Body, soundboard.Allowed)

	clean, err := p.sanitizer.Body(req.Body)
	if err != nil {
		return nil, err
	}

	msg, err := p.store.PutMessage(ctx, store.Message{
		ID:           req.ID,
		RoomID:       req.RoomID,
		CreatorID:    req.ActorUserID,
		Body:         clean,
		Mentions:     mentions,
		SoundCommand: soundCommand,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return msg, nil
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("persist message: %w", err)
	}

	p.fanOut(ctx, *msg)

	if err := p.store.SetLastRead(ctx, req.RoomID, req.ActorUserID, msg.ID); err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("failed to update creator's read cursor")
	}

	return msg, nil
}

// fanOut delivers a committed message to live subscribers, bots, and offline push recipients (§4.G
// step 7). Every sub-step is best-effort: a failure here is logged, never surfaced to the caller, and
// never retried by this method (the message is already durable).
func (p *Pipeline) fanOut(ctx context.Context, msg store.Message) {
	p.conns.Publish(msg.RoomID, connmgr.EventMessageCreated, messageCreatedPayload(msg))

	if p.bots != nil {
		bots, err := p.store.ListBotMembers(ctx, msg.RoomID)
		if err != nil {
			p.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("failed to load bot members for fan-out")
		} else {
			for _, bot := range bots {
				if bot.ID == msg.CreatorID {
					continue
				}
				p.bots.Dispatch(bot, msg)
			}
		}
	}

	if p.push != nil {
		p.dispatchPush(ctx, msg)
	}
}

// dispatchPush computes members(room) - connected_users(room) - {creator}, filtered by each member's
// involvement setting, and enqueues a push job for each (§4.G step 7).
func (p *Pipeline) dispatchPush(ctx context.Context, msg store.Message) {
	memberships, err := p.store.ListMemberships(ctx, msg.RoomID)
	if err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("failed to load memberships for push fan-out")
		return
	}

	room, err := p.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("failed to load room for push fan-out")
		return
	}

	connected := make(map[uuid.UUID]struct{})
	for _, id := range p.conns.Presence(msg.RoomID) {
		connected[id] = struct{}{}
	}

	mentioned := make(map[uuid.UUID]struct{}, len(msg.Mentions))
	for _, id := range msg.Mentions {
		mentioned[id] = struct{}{}
	}

	for _, m := range memberships {
		if m.UserID == msg.CreatorID {
			continue
		}
		if _, ok := connected[m.UserID]; ok {
			continue
		}

		_, isMentioned := mentioned[m.UserID]
		eligible := false
		switch m.Involvement {
		case store.InvolvementEverything:
			eligible = true
		case store.InvolvementMentions:
			eligible = isMentioned || room.Type == store.RoomDirect
		case store.InvolvementNothing:
			eligible = false
		}
		if !eligible {
			continue
		}

		p.push.Dispatch(m.UserID, msg)
	}
}

type messageCreatedEvent struct {
	ID           uuid.UUID   `json:"id"`
	RoomID       uuid.UUID   `json:"room_id"`
	CreatorID    uuid.UUID   `json:"creator_id"`
	Body         string      `json:"body"`
	CreatedAtMS  int64       `json:"created_at_ms"`
	Mentions     []uuid.UUID `json:"mentions"`
	SoundCommand string      `json:"sound_command,omitempty"`
}

func messageCreatedPayload(msg store.Message) messageCreatedEvent {
	return messageCreatedEvent{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		CreatorID:    msg.CreatorID,
		Body:         msg.Body,
		CreatedAtMS:  msg.CreatedAt.UnixMilli(),
		Mentions:     msg.Mentions,
		SoundCommand: msg.SoundCommand,
	}
}
