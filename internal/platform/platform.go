package platform

import "context"

// Messenger is the chat surface the bot talks through. Channel ids are
// opaque strings; a "thread" is a channel id anchored to a message
// ("<chatID>.<messageID>") so replies land under that message.
type Messenger interface {
	Send(ctx context.Context, channelID, text string) (messageID string, err error)
	SendWithButton(ctx context.Context, channelID, text, buttonLabel, buttonData string) (messageID string, err error)
	Edit(ctx context.Context, channelID, messageID, text string) error
	DisableButton(ctx context.Context, channelID, messageID string) error
	CreateThread(ctx context.Context, channelID, title string) (threadID string, err error)
	AckButton(ctx context.Context, pressID, text string) error
	Mention(userID string) string
}

// Message is a plain chat message.
type Message struct {
	ChannelID  string
	MessageID  string
	UserID     string
	UserName   string
	Text       string
	Privileged bool
}

// Command is a parsed slash command with its argument tail.
type Command struct {
	Message
	Name string
	Args string
}

// ButtonPress is an inline-button callback.
type ButtonPress struct {
	PressID   string
	ChannelID string
	MessageID string
	UserID    string
	UserName  string
	Data      string
}

// Handler receives decoded platform events. All methods are called
// from the adapter's update loop.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command)
	HandleMessage(ctx context.Context, msg Message)
	HandleButton(ctx context.Context, press ButtonPress)
}
