package memory

import "fmt"

// KV key layout for the memory package.
//
//	profile:{user}                                → JSON Profile, TTL 7d
//	conversation:{user}:{conv}                    → list of JSON Turn, TTL 7d, cap 100
//	conversation_summary:{user}:{conv}:{L1|L2|L3} → summary text, TTL 30d
//
// All values are UTF-8; list entries are JSON.

// profileKey builds the KV key for a user profile.
func profileKey(userID string) string {
	return "profile:" + userID
}

// conversationKey builds the KV key for a conversation turn list.
func conversationKey(userID, conversationID string) string {
	return fmt.Sprintf("conversation:%s:%s", userID, conversationID)
}

// summaryKey builds the KV key for a layer summary.
func summaryKey(userID, conversationID string, level Level) string {
	return fmt.Sprintf("conversation_summary:%s:%s:%s", userID, conversationID, level)
}

// userKeyPattern matches every key owned by a user, for maintenance
// scans only.
func userKeyPattern(userID string) []string {
	return []string{
		"profile:" + userID,
		fmt.Sprintf("conversation:%s:*", userID),
		fmt.Sprintf("conversation_summary:%s:*", userID),
	}
}
