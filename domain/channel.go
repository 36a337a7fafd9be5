package domain

type ChannelID string

// Channel is a named multi-party message target.
// Membership is shared: many identities belong to many channels.
type Channel struct {
	ID      ChannelID
	Name    string
	Members []IdentityID
}
