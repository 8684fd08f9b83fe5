package transport

import (
	"context"
	"io"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Reaction *Reaction
}

type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	FromID      string
	FromName    string
	FromRoles   []string // role IDs of the author (guild messages only)
	Text        string
	Attachments []Attachment
	IsBot       bool
}

// Reaction is an emoji added to a message.
type Reaction struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	UserRoles []string
	Emoji     string
}

type Attachment struct {
	ID       string
	URL      string
	Filename string
	Size     int
}

type ChatTarget struct {
	ChannelID string
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
	FooterIcon  string
	Timestamp   *time.Time
}

type SendOptions struct {
	ReplyTo *MessageRef
	Embed   *Embed
}

// Adapter is the platform boundary for messaging.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Ready blocks until the platform session is fully connected
	// (guild state available) or ctx is cancelled.
	Ready(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendEmbed(ctx context.Context, to ChatTarget, e Embed) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error

	AddReaction(ctx context.Context, ref MessageRef, emoji string) error
	RemoveReaction(ctx context.Context, ref MessageRef, emoji, userID string) error
}

// RoleManager mutates and inspects guild role membership.
// The reason string is recorded in the platform audit log when supported.
type RoleManager interface {
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error

	// RoleMembers returns the user IDs of every member currently holding roleID.
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)

	MemberHasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}

// Uploader is an optional adapter capability for file re-upload.
type Uploader interface {
	SendFile(ctx context.Context, to ChatTarget, filename string, r io.Reader, opt *SendOptions) (MessageRef, error)

	// WebhookSendFile re-uploads a file through a channel webhook,
	// impersonating username/avatarURL.
	WebhookSendFile(ctx context.Context, to ChatTarget, username, avatarURL, filename string, r io.Reader) error

	// UploadLimit returns the maximum upload size in bytes for the guild.
	UploadLimit(guildID string) int
}
