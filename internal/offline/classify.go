package offline

import (
	"regexp"

	"github.com/driftmsg/drift/internal/store"
)

// writeRule matches an outgoing request to a queueable operation type.
type writeRule struct {
	method string
	path   *regexp.Regexp
	opType string
}

// writeRules is evaluated in order, first match wins. Patterns are anchored
// on the IM route prefix so unrelated endpoints never get queued.
// Classification is purely syntactic: method and path only, never the body.
var writeRules = []writeRule{
	{"POST", regexp.MustCompile(`^/api/im/(?:messages|direct|groups)/`), store.OpMessageSend},
	{"PATCH", regexp.MustCompile(`^/api/im/messages/`), store.OpMessageEdit},
	{"DELETE", regexp.MustCompile(`^/api/im/messages/`), store.OpMessageDelete},
	{"POST", regexp.MustCompile(`^/api/im/conversations/[^/]+/read$`), store.OpConversationRead},
}

// Classify returns the operation type for a method and path, or "" when the
// request is a plain read or otherwise not a queueable write.
func Classify(method, path string) string {
	for _, rule := range writeRules {
		if method == rule.method && rule.path.MatchString(path) {
			return rule.opType
		}
	}
	return ""
}

var conversationPathRe = regexp.MustCompile(`/(?:messages|direct|groups)/([^/]+)`)

// conversationIDFromPath extracts the conversation segment from a message
// route, "" when absent.
func conversationIDFromPath(path string) string {
	m := conversationPathRe.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}
