package store

import "strconv"

// GreetingAnchorKey is the settings key holding the greeting reference
// message id for one chat. Welcome and intro messages reply to that anchor
// when it is set.
func GreetingAnchorKey(chatID int64) string {
	return "greeting_message_id." + strconv.FormatInt(chatID, 10)
}
