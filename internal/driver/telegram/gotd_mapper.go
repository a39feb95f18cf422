package telegram

import (
	"strconv"
	"strings"
	"time"

	"memebot/pkg/chat"

	"github.com/gotd/td/tg"
)

const unknownActorID = "unknown"

// gotdEnvelope is one flattened update plus the entities that arrived with it.
type gotdEnvelope struct {
	message    tg.MessageClass
	occurredAt time.Time
	users      map[int64]*tg.User
	chats      map[int64]gotdChatInfo
	class      string
}

type gotdChatInfo struct {
	title     string
	kind      chat.ConversationType
	inputPeer tg.InputPeerClass
}

// flattenGotdUpdates extracts new-message updates from any gotd container.
// Everything else is ignored.
func flattenGotdUpdates(updates tg.UpdatesClass) []gotdEnvelope {
	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdateShort:
		return flattenGotdBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil)
	case *tg.UpdateShortMessage:
		message := &tg.Message{
			ID:      typed.ID,
			Out:     typed.Out,
			PeerID:  &tg.PeerUser{UserID: typed.UserID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.UserID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []gotdEnvelope{{message: message, occurredAt: unixUTC(typed.Date), class: typed.TypeName()}}
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      typed.ID,
			Out:     typed.Out,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.FromID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []gotdEnvelope{{message: message, occurredAt: unixUTC(typed.Date), class: typed.TypeName()}}
	default:
		return nil
	}
}

func flattenGotdBatch(updates []tg.UpdateClass, date int, users []tg.UserClass, chats []tg.ChatClass) []gotdEnvelope {
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdEnvelope, 0, len(updates))
	for _, update := range updates {
		var message tg.MessageClass
		switch typed := update.(type) {
		case *tg.UpdateNewMessage:
			message = typed.Message
		case *tg.UpdateNewChannelMessage:
			message = typed.Message
		default:
			continue
		}
		batch = append(batch, gotdEnvelope{
			message:    message,
			occurredAt: unixUTC(date),
			users:      usersByID,
			chats:      chatsByID,
			class:      update.TypeName(),
		})
	}

	return batch
}

// mapGotdMessage converts one envelope into an Update. Outgoing, empty and
// service messages are not accepted.
func mapGotdMessage(envelope gotdEnvelope, peers *PeerCache) (Update, bool) {
	message, ok := envelope.message.(*tg.Message)
	if !ok || message.Out || strings.TrimSpace(message.Message) == "" {
		return Update{}, false
	}

	chatRef := resolveChat(message.PeerID, envelope)
	actor := resolveActor(message.FromID, envelope)
	if actor.ID == unknownActorID {
		actor = resolveActor(message.PeerID, envelope)
	}

	payload := &MessagePayload{
		ID:   strconv.Itoa(message.ID),
		Text: message.Message,
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToID)
			}
		}
	}

	occurredAt := unixUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}
	peers.Remember(chatRef, resolveInputPeer(message.PeerID, envelope))

	return Update{
		ID:         "tg:" + chatRef.ID + ":" + payload.ID,
		OccurredAt: occurredAt,
		Chat:       chatRef,
		Actor:      actor,
		Message:    payload,
		Metadata:   map[string]string{"gotd_update": envelope.class},
	}, true
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if notEmpty, ok := user.AsNotEmpty(); ok && notEmpty != nil {
			out[notEmpty.ID] = notEmpty
		}
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	out := make(map[int64]gotdChatInfo, len(chats))
	for _, item := range chats {
		switch typed := item.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      chat.ConversationTypeGroup,
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.Channel:
			kind := chat.ConversationTypeChannel
			if typed.Megagroup {
				kind = chat.ConversationTypeGroup
			}
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      kind,
				inputPeer: typed.AsInputPeer(),
			}
		}
	}

	return out
}

func resolveChat(peer tg.PeerClass, envelope gotdEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActor(typed, envelope)
		return ChatRef{ID: actor.ID, Type: chat.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return chatRefFromIndex(typed.ChatID, chat.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return chatRefFromIndex(typed.ChannelID, chat.ConversationTypeChannel, envelope)
	default:
		return ChatRef{ID: unknownActorID, Type: chat.ConversationTypePrivate}
	}
}

func chatRefFromIndex(id int64, fallback chat.ConversationType, envelope gotdEnvelope) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chats[id]; ok {
		ref.Title = info.title
		ref.Type = info.kind
	}

	return ref
}

func resolveActor(peer tg.PeerClass, envelope gotdEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if typed.UserID == 0 {
			return ActorRef{ID: unknownActorID}
		}
		id := strconv.FormatInt(typed.UserID, 10)
		user, ok := envelope.users[typed.UserID]
		if !ok {
			return ActorRef{ID: id, DisplayName: id}
		}
		displayName := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if displayName == "" {
			displayName = user.Username
		}
		if displayName == "" {
			displayName = id
		}
		return ActorRef{ID: id, Username: user.Username, DisplayName: displayName, IsBot: user.Bot}
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: envelope.chats[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: envelope.chats[typed.ChannelID].title}
	default:
		return ActorRef{ID: unknownActorID}
	}
}

func resolveInputPeer(peer tg.PeerClass, envelope gotdEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := envelope.users[typed.UserID]; ok {
			return user.AsInputPeer()
		}
		return &tg.InputPeerUser{UserID: typed.UserID}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		if info, ok := envelope.chats[typed.ChannelID]; ok && info.inputPeer != nil {
			return info.inputPeer
		}
		return nil
	default:
		return nil
	}
}

func unixUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
