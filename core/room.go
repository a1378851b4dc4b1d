package core

import "strings"

const (
	directRoomPrefix = "direct-"
	groupRoomPrefix  = "group-"
)

// DirectRoomKey derives the canonical room key for a pair of users.
// The pair is sorted lexicographically so both participants compute the
// identical key regardless of argument order.
func DirectRoomKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	var sb strings.Builder
	sb.Grow(len(directRoomPrefix) + len(userA) + len(userB) + 1)
	sb.WriteString(directRoomPrefix)
	sb.WriteString(userA)
	sb.WriteString("-")
	sb.WriteString(userB)
	return sb.String()
}

// GroupRoomKey derives the canonical room key for a group.
// The prefix guarantees group keys never collide with direct keys.
func GroupRoomKey(groupID string) string {
	return groupRoomPrefix + groupID
}
