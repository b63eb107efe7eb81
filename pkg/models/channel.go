package models

// ChannelType represents the kind of channel adapter.
type ChannelType string

const (
	ChannelFile ChannelType = "file"
	ChannelCLI  ChannelType = "cli"
	ChannelMCP  ChannelType = "mcp"
)

// ChannelItemStatus represents the processing state of an inbound channel item.
type ChannelItemStatus string

const (
	ChannelStatusPending   ChannelItemStatus = "pending"
	ChannelStatusAdmitted  ChannelItemStatus = "admitted"
	ChannelStatusUnpaired  ChannelItemStatus = "unpaired"
	ChannelStatusProcessed ChannelItemStatus = "processed"
)

// ChannelItem is an inbound message read by a channel adapter before it passes
// the pairing gate.
type ChannelItem struct {
	ID          string            `yaml:"id"`
	Channel     ChannelType       `yaml:"channel"`
	Source      string            `yaml:"source"` // adapter name
	From        string            `yaml:"from"`
	Content     string            `yaml:"content"`
	Date        string            `yaml:"date"`
	Status      ChannelItemStatus `yaml:"status"`
	Attachments []string          `yaml:"attachments,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// OutputItem is a reply rendered by a channel adapter for its recipient.
type OutputItem struct {
	ID           string            `yaml:"id"`
	Channel      ChannelType       `yaml:"channel"`
	Destination  string            `yaml:"destination"`
	Content      string            `yaml:"content"`
	InReplyTo    string            `yaml:"in_reply_to,omitempty"`
	Worker       string            `yaml:"worker,omitempty"`
	Attachments  []string          `yaml:"attachments,omitempty"`
	LongResponse bool              `yaml:"long_response,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}
