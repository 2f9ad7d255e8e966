package slack

// ThreadKey decides which thread an event belongs to.
//
// Priority: an explicit parent reference wins; a mention of the bot anchors
// a thread at the mention itself, so mentions never merge into unrelated
// prior threads; a message that already has replies is its own anchor;
// everything else stays top-level.
func ThreadKey(parent, own string, mention, hasReplies bool) string {
	switch {
	case parent != "" && parent != own:
		return parent
	case mention:
		return own
	case hasReplies:
		return own
	default:
		return ""
	}
}
