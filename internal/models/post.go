package models

import "time"

// Post is an authored entry that shows up in follower feeds.
type Post struct {
	ID         string     `bson:"_id" json:"id"`
	AuthorID   string     `bson:"author_id" json:"author_id"`
	Content    string     `bson:"content" json:"content"`
	LikesCount int64      `bson:"likes_count" json:"likes_count"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	EditedAt   *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	DeletedAt  *time.Time `bson:"deleted_at,omitempty" json:"-"`
}

// Deleted reports whether the post was soft-deleted.
func (p *Post) Deleted() bool {
	return p.DeletedAt != nil
}

// Comment is a reply attached to a post. It can be liked like a post.
type Comment struct {
	ID         string     `bson:"_id" json:"id"`
	PostID     string     `bson:"post_id" json:"post_id"`
	AuthorID   string     `bson:"author_id" json:"author_id"`
	Content    string     `bson:"content" json:"content"`
	LikesCount int64      `bson:"likes_count" json:"likes_count"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	DeletedAt  *time.Time `bson:"deleted_at,omitempty" json:"-"`
}
