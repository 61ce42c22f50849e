package chat

import "strings"

// locale holds the user-facing strings emitted by the engine itself.
type locale struct {
	guestName      string
	botName        string
	handoverNotice string
	idleWarning    string
	closedNotice   string
}

var locales = map[string]locale{
	"vi": {
		guestName:      "Khách",
		botName:        "Trợ lý ảo",
		handoverNotice: "Bạn đã được kết nối với nhân viên hỗ trợ. Trợ lý ảo sẽ tạm dừng trả lời.",
		idleWarning:    "Bạn còn cần hỗ trợ không? Cuộc trò chuyện sẽ tự động kết thúc nếu không có tin nhắn mới.",
		closedNotice:   "Cuộc trò chuyện đã kết thúc. Cảm ơn bạn đã liên hệ!",
	},
	"en": {
		guestName:      "Guest",
		botName:        "Assistant",
		handoverNotice: "You are now connected to a support agent. The assistant will stop replying.",
		idleWarning:    "Are you still there? This conversation will close automatically if there is no new message.",
		closedNotice:   "This conversation has ended. Thank you for contacting us!",
	},
}

// localeFor maps a language tag to its strings; anything not Vietnamese is English.
func localeFor(language string) locale {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "vi" || strings.HasPrefix(lang, "vi-") || strings.HasPrefix(lang, "vi_") {
		return locales["vi"]
	}
	return locales["en"]
}
