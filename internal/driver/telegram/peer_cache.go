package telegram

import (
	"fmt"
	"sync"

	"memebot/pkg/chat"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates so
// outbound replies can address a neutral conversation id.
type PeerCache struct {
	mu             sync.RWMutex
	byConversation map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byConversation: make(map[string]tg.InputPeerClass),
	}
}

// Remember stores one conversation-to-peer mapping.
func (c *PeerCache) Remember(ref ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || ref.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byConversation[conversationKey(ref.Type, ref.ID)] = cloneInputPeer(peer)

	// Megagroups are groups in neutral events but channel peers on the wire.
	if ref.Type == chat.ConversationTypeGroup {
		if _, isChannel := peer.(*tg.InputPeerChannel); isChannel {
			c.byConversation[conversationKey(chat.ConversationTypeChannel, ref.ID)] = cloneInputPeer(peer)
		}
	}
}

// Resolve returns the input peer for an outbound conversation.
func (c *PeerCache) Resolve(conversation chat.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" {
		return nil, fmt.Errorf("resolve peer: empty conversation id")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := []chat.ConversationType{conversation.Type}
	switch conversation.Type {
	case chat.ConversationTypeGroup:
		candidates = append(candidates, chat.ConversationTypeChannel)
	case chat.ConversationTypeChannel:
		candidates = append(candidates, chat.ConversationTypeGroup)
	case "":
		candidates = []chat.ConversationType{
			chat.ConversationTypePrivate,
			chat.ConversationTypeGroup,
			chat.ConversationTypeChannel,
		}
	}
	for _, candidate := range candidates {
		if peer, ok := c.byConversation[conversationKey(candidate, conversation.ID)]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not seen", conversation.Type, conversation.ID)
}

// Len reports how many conversation keys are cached.
func (c *PeerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byConversation)
}

func conversationKey(conversationType chat.ConversationType, id string) string {
	return string(conversationType) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
