package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"social-service/internal/apperr"
	"social-service/internal/models"
	"social-service/internal/repositories"
)

// In-memory repositories with the same conditional-write semantics as the
// Mongo and Postgres implementations. Safe for concurrent use.

var (
	_ repositories.EngagementRepository   = (*MemEngagements)(nil)
	_ repositories.PostRepository         = (*MemPosts)(nil)
	_ repositories.TargetRepository       = (*MemPosts)(nil)
	_ repositories.NotificationRepository = (*MemNotifications)(nil)
	_ repositories.ConversationRepository = (*MemConversations)(nil)
	_ repositories.MessageRepository      = (*MemMessages)(nil)
	_ repositories.FollowRepository       = (*MemFollows)(nil)
	_ repositories.CommentRepository      = MemComments{}
)

type MemEngagements struct {
	mu      sync.Mutex
	records map[string]models.EngagementRecord
}

func NewMemEngagements() *MemEngagements {
	return &MemEngagements{records: make(map[string]models.EngagementRecord)}
}

func (m *MemEngagements) Insert(_ context.Context, rec *models.EngagementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return apperr.ErrConflict
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemEngagements) Delete(_ context.Context, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[recordID]; !ok {
		return false, nil
	}
	delete(m.records, recordID)
	return true, nil
}

func (m *MemEngagements) Exists(_ context.Context, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[recordID]
	return ok, nil
}

func (m *MemEngagements) Count(_ context.Context, targetID string, targetType models.TargetType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.TargetID == targetID && rec.TargetType == targetType {
			n++
		}
	}
	return n, nil
}

// Len is the total number of stored records.
func (m *MemEngagements) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// MemPosts stores posts and comments and exposes them as like targets.
type MemPosts struct {
	mu       sync.Mutex
	posts    map[string]*models.Post
	comments map[string]*models.Comment
	// IncErr, when set, fails every IncLikes call.
	IncErr error
}

func NewMemPosts() *MemPosts {
	return &MemPosts{posts: make(map[string]*models.Post), comments: make(map[string]*models.Comment)}
}

func (m *MemPosts) Create(_ context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.ID]; ok {
		return apperr.ErrConflict
	}
	cp := *post
	m.posts[post.ID] = &cp
	return nil
}

// AddComment stores a comment.
func (m *MemPosts) AddComment(comment *models.Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *comment
	m.comments[comment.ID] = &cp
}

func (m *MemPosts) Get(_ context.Context, postID string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.Deleted() {
		return nil, apperr.NotFound("post")
	}
	cp := *p
	return &cp, nil
}

func (m *MemPosts) UpdateContent(_ context.Context, postID, authorID, content string, at time.Time) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.Deleted() || p.AuthorID != authorID {
		return nil, apperr.NotFound("post")
	}
	p.Content = content
	p.EditedAt = &at
	cp := *p
	return &cp, nil
}

func (m *MemPosts) SoftDelete(_ context.Context, postID, authorID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.AuthorID != authorID {
		return false, apperr.NotFound("post")
	}
	if p.Deleted() {
		return false, nil
	}
	p.DeletedAt = &at
	return true, nil
}

func (m *MemPosts) RecentByAuthors(_ context.Context, authorIDs []string, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	authors := make(map[string]bool, len(authorIDs))
	for _, id := range authorIDs {
		authors[id] = true
	}
	var out []*models.Post
	for _, p := range m.posts {
		if authors[p.AuthorID] && !p.Deleted() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemPosts) GetTarget(_ context.Context, targetID string, targetType models.TargetType) (repositories.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch targetType {
	case models.TargetPost:
		p, ok := m.posts[targetID]
		if !ok || p.Deleted() {
			return repositories.Target{}, apperr.NotFound("post")
		}
		return repositories.Target{ID: p.ID, Type: targetType, OwnerID: p.AuthorID, PostID: p.ID, LikesCount: p.LikesCount}, nil
	case models.TargetComment:
		c, ok := m.comments[targetID]
		if !ok || c.DeletedAt != nil {
			return repositories.Target{}, apperr.NotFound("comment")
		}
		return repositories.Target{ID: c.ID, Type: targetType, OwnerID: c.AuthorID, PostID: c.PostID, LikesCount: c.LikesCount}, nil
	default:
		return repositories.Target{}, apperr.Validation("unsupported target type %q", targetType)
	}
}

func (m *MemPosts) IncLikes(_ context.Context, targetID string, targetType models.TargetType, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IncErr != nil {
		return m.IncErr
	}
	m.adjust(targetID, targetType, func(n int64) int64 { return n + delta })
	return nil
}

func (m *MemPosts) SetLikes(_ context.Context, targetID string, targetType models.TargetType, from, to int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swapped := false
	m.adjust(targetID, targetType, func(n int64) int64 {
		if n != from {
			return n
		}
		swapped = true
		return to
	})
	return swapped, nil
}

// SeedLikes overwrites the display counter, simulating drift.
func (m *MemPosts) SeedLikes(targetID string, targetType models.TargetType, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjust(targetID, targetType, func(int64) int64 { return count })
}

func (m *MemPosts) adjust(targetID string, targetType models.TargetType, fn func(int64) int64) {
	switch targetType {
	case models.TargetPost:
		if p, ok := m.posts[targetID]; ok {
			p.LikesCount = fn(p.LikesCount)
		}
	case models.TargetComment:
		if c, ok := m.comments[targetID]; ok {
			c.LikesCount = fn(c.LikesCount)
		}
	}
}

func (m *MemPosts) ScanTargets(_ context.Context, targetType models.TargetType, afterID string, limit int) ([]repositories.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []repositories.Target
	switch targetType {
	case models.TargetPost:
		for _, p := range m.posts {
			all = append(all, repositories.Target{ID: p.ID, Type: targetType, OwnerID: p.AuthorID, PostID: p.ID, LikesCount: p.LikesCount})
		}
	case models.TargetComment:
		for _, c := range m.comments {
			all = append(all, repositories.Target{ID: c.ID, Type: targetType, OwnerID: c.AuthorID, PostID: c.PostID, LikesCount: c.LikesCount})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out := []repositories.Target{}
	for _, t := range all {
		if t.ID > afterID && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

// LikesCount reads the stored display counter.
func (m *MemPosts) LikesCount(targetID string, targetType models.TargetType) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if targetType == models.TargetComment {
		if c, ok := m.comments[targetID]; ok {
			return c.LikesCount
		}
		return 0
	}
	if p, ok := m.posts[targetID]; ok {
		return p.LikesCount
	}
	return 0
}

// MemComments exposes the comments of a MemPosts as a CommentRepository.
type MemComments struct {
	Posts *MemPosts
}

func (m MemComments) Create(_ context.Context, comment *models.Comment) error {
	m.Posts.AddComment(comment)
	return nil
}

func (m MemComments) ListByPost(_ context.Context, postID string, limit int) ([]*models.Comment, error) {
	m.Posts.mu.Lock()
	defer m.Posts.mu.Unlock()
	out := []*models.Comment{}
	for _, c := range m.Posts.comments {
		if c.PostID == postID && c.DeletedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemNotifications struct {
	mu    sync.Mutex
	items []*models.Notification
	// Err, when set, fails every Create call.
	Err error
}

func NewMemNotifications() *MemNotifications { return &MemNotifications{} }

func (m *MemNotifications) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cp := *n
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemNotifications) ListForRecipient(_ context.Context, recipientID string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Notification{}
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if m.items[i].RecipientID == recipientID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

type MemConversations struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
}

func NewMemConversations() *MemConversations {
	return &MemConversations{convs: make(map[string]*models.Conversation)}
}

func (m *MemConversations) Create(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; ok {
		return apperr.ErrConflict
	}
	cp := *conv
	cp.ParticipantIDs = append([]string(nil), conv.ParticipantIDs...)
	m.convs[conv.ID] = &cp
	return nil
}

func (m *MemConversations) Get(_ context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return nil, apperr.NotFound("conversation")
	}
	cp := *c
	cp.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &cp, nil
}

func (m *MemConversations) ListIDsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, c := range m.convs {
		if c.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemConversations) NextSeq(_ context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return 0, apperr.NotFound("conversation")
	}
	c.LastSeq++
	return c.LastSeq, nil
}

type MemMessages struct {
	mu   sync.Mutex
	msgs map[string]*models.Message
}

func NewMemMessages() *MemMessages {
	return &MemMessages{msgs: make(map[string]*models.Message)}
}

func (m *MemMessages) Create(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[msg.ID]; ok {
		return apperr.ErrConflict
	}
	cp := cloneMessage(msg)
	cp.StatusRank = cp.Status.Rank()
	if cp.DeliveredTo == nil {
		cp.DeliveredTo = []string{}
	}
	if cp.ReadBy == nil {
		cp.ReadBy = []string{}
	}
	m.msgs[msg.ID] = cp
	return nil
}

func (m *MemMessages) Get(_ context.Context, messageID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, apperr.NotFound("message")
	}
	return cloneMessage(msg), nil
}

func (m *MemMessages) ListByConversation(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Message{}
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemMessages) AddReceipt(_ context.Context, messageID, userID string, kind models.ReceiptKind) (*models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, false, apperr.NotFound("message")
	}
	changed := false
	if kind == models.ReceiptRead {
		msg.ReadBy, changed = addToSet(msg.ReadBy, userID)
		if changed {
			msg.DeliveredTo, _ = addToSet(msg.DeliveredTo, userID)
		}
	} else {
		msg.DeliveredTo, changed = addToSet(msg.DeliveredTo, userID)
	}
	return cloneMessage(msg), changed, nil
}

func (m *MemMessages) AdvanceStatus(_ context.Context, messageID string, to models.MessageStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.StatusRank >= to.Rank() {
		return false, nil
	}
	msg.Status = to
	msg.StatusRank = to.Rank()
	return true, nil
}

func (m *MemMessages) Edit(_ context.Context, messageID, senderID string, prev models.MessageEdit, content string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.SenderID != senderID || msg.DeletedAt != nil || msg.Content != prev.Content {
		return nil, apperr.ErrConflict
	}
	msg.EditHistory = append(msg.EditHistory, prev)
	msg.Content = content
	msg.UpdatedAt = prev.EditedAt
	return cloneMessage(msg), nil
}

func (m *MemMessages) SoftDelete(_ context.Context, messageID, senderID string, at time.Time) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.SenderID != senderID || msg.DeletedAt != nil {
		return nil, apperr.NotFound("message")
	}
	msg.DeletedAt = &at
	msg.Content = ""
	msg.UpdatedAt = at
	return cloneMessage(msg), nil
}

func addToSet(set []string, v string) ([]string, bool) {
	for _, s := range set {
		if s == v {
			return set, false
		}
	}
	return append(set, v), true
}

func cloneMessage(msg *models.Message) *models.Message {
	cp := *msg
	cp.DeliveredTo = append([]string(nil), msg.DeliveredTo...)
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	cp.EditHistory = append([]models.MessageEdit(nil), msg.EditHistory...)
	return &cp
}

type MemFollows struct {
	mu    sync.Mutex
	edges map[[2]string]bool
}

func NewMemFollows() *MemFollows {
	return &MemFollows{edges: make(map[[2]string]bool)}
}

func (m *MemFollows) Follow(_ context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return apperr.Validation("cannot follow yourself")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[[2]string{followerID, followeeID}] = true
	return nil
}

func (m *MemFollows) Unfollow(_ context.Context, followerID, followeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, [2]string{followerID, followeeID})
	return nil
}

func (m *MemFollows) FollowerIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for e := range m.edges {
		if e[1] == userID {
			ids = append(ids, e[0])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemFollows) FolloweeIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for e := range m.edges {
		if e[0] == userID {
			ids = append(ids, e[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
