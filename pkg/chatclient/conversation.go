package chatclient

import (
	"slices"
	"strings"
	"sync"

	"github.com/mahaj/dm-relay/pkg/model"
)

// Conversation is the state of one open chat: the messages shown so far, the
// text being typed, and how many incoming messages have not been looked at.
//
// History and live pushes can arrive in either order, and a message may come
// through both; messages are kept sorted by id and stored once.
type Conversation struct {
	mu          sync.Mutex
	me          string
	counterpart string
	messages    []model.Message
	ids         map[int64]struct{}
	draft       string
	following   bool
	unseen      int
}

func NewConversation(me, counterpart string) *Conversation {
	return &Conversation{
		me:          me,
		counterpart: counterpart,
		ids:         make(map[int64]struct{}),
		following:   true,
	}
}

func (c *Conversation) Counterpart() string { return c.counterpart }

// Load merges a fetched history. Returns the number of messages not seen
// before.
func (c *Conversation) Load(history []model.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, m := range history {
		if c.insert(m) {
			added++
		}
	}
	return added
}

// Apply takes a live message. Messages from other conversations and
// duplicates are ignored and reported as false.
func (c *Conversation) Apply(msg model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.insert(msg) {
		return false
	}
	if msg.SenderID != c.me && !c.following {
		c.unseen++
	}
	return true
}

func (c *Conversation) insert(msg model.Message) bool {
	if !msg.Involves(c.me, c.counterpart) {
		return false
	}
	if _, dup := c.ids[msg.ID]; dup {
		return false
	}
	c.ids[msg.ID] = struct{}{}

	i, _ := slices.BinarySearchFunc(c.messages, msg.ID, func(m model.Message, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
	c.messages = slices.Insert(c.messages, i, msg)
	return true
}

// Messages returns a copy, oldest first.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// TakeDraft returns the trimmed draft and clears it. ok is false when there
// is nothing worth sending; the draft is then left as is.
func (c *Conversation) TakeDraft() (text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text = strings.TrimSpace(c.draft)
	if text == "" {
		return "", false
	}
	c.draft = ""
	return text, true
}

// SetFollowing records whether the view is pinned to the newest message.
// Pinning it marks everything seen.
func (c *Conversation) SetFollowing(following bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.following = following
	if following {
		c.unseen = 0
	}
}

func (c *Conversation) Unseen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unseen
}

func (c *Conversation) MarkSeen() {
	c.mu.Lock()
	c.unseen = 0
	c.mu.Unlock()
}
