package notify

import (
	"fmt"
	"strings"
)

// verbFor returns the rendered action phrase for a notification type.
// The empty string marks types whose message doesn't reference a target.
func verbFor(t NotificationType, targetType string) string {
	if targetType == "" {
		targetType = "post"
	}
	switch t {
	case TypeLike:
		return "liked your " + targetType
	case TypeComment:
		return "commented on your " + targetType
	case TypeMention:
		return "mentioned you in a " + targetType
	case TypeFollow:
		return "started following you"
	}
	return "interacted with your " + targetType
}

// RenderMessage produces the aggregate message for a window: up to two
// named actors are enumerated, the rest collapse into an "N others"
// remainder. total is the displayed count and is never rendered below
// the number of named actors.
func RenderMessage(t NotificationType, targetType string, actorNames []string, total int64) string {
	verb := verbFor(t, targetType)

	if total < int64(len(actorNames)) {
		total = int64(len(actorNames))
	}

	switch {
	case len(actorNames) == 0:
		return fmt.Sprintf("%d people %s", total, verb)
	case total == 1:
		return fmt.Sprintf("%s %s", actorNames[0], verb)
	case total == 2 && len(actorNames) >= 2:
		return fmt.Sprintf("%s and %s %s", actorNames[0], actorNames[1], verb)
	case total == 3 && len(actorNames) >= 3:
		return fmt.Sprintf("%s, %s and %s %s", actorNames[0], actorNames[1], actorNames[2], verb)
	default:
		// Two named samples plus the remainder.
		names := actorNames
		if len(names) > 2 {
			names = names[:2]
		}
		others := total - int64(len(names))
		if others < 1 {
			others = 1
		}
		return fmt.Sprintf("%s and %d others %s", strings.Join(names, ", "), others, verb)
	}
}
