package domain

// ConversationKey identifies a direct conversation between two identities.
// The key is canonical: (A,B) and (B,A) resolve to the same value, so the
// pair never produces two distinct logs.
type ConversationKey string

func ConversationOf(a, b IdentityID) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey(string(a) + ":" + string(b))
}
