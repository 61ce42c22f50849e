package ai

import "strings"

// Topic is a canned-answer subject used when the generation backend gives no answer.
type Topic string

const (
	TopicNone         Topic = ""
	TopicDelivery     Topic = "delivery"
	TopicVegetarian   Topic = "vegetarian"
	TopicOpeningHours Topic = "opening_hours"
	TopicMenu         Topic = "menu"
	TopicPricing      Topic = "pricing"
)

type topicRule struct {
	topic    Topic
	keywords []string
	answers  map[string]string
}

// Rules are scored in order; on equal scores the earlier topic wins.
var topicRules = []topicRule{
	{
		topic: TopicDelivery,
		keywords: []string{
			"giao hàng", "giao", "ship", "vận chuyển", "phí ship",
			"deliver", "delivery", "shipping",
		},
		answers: map[string]string{
			"vi": "Nhà hàng giao hàng từ 10:00 đến 21:30 mỗi ngày. Phí giao hàng là 15.000đ trong bán kính 5km và miễn phí cho đơn từ 200.000đ.",
			"en": "We deliver every day from 10:00 to 21:30. The delivery fee is 15,000 VND within 5 km and free for orders over 200,000 VND.",
		},
	},
	{
		topic:    TopicVegetarian,
		keywords: []string{"chay", "thuần chay", "vegetarian", "vegan", "meatless"},
		answers: map[string]string{
			"vi": "Chúng tôi có các món chay như đậu hũ sốt cà, rau xào thập cẩm và cơm chiên chay. Bạn có thể hỏi nhân viên để được tư vấn thêm.",
			"en": "We offer vegetarian dishes such as tofu in tomato sauce, stir-fried mixed vegetables and vegetarian fried rice.",
		},
	},
	{
		topic:    TopicOpeningHours,
		keywords: []string{"mở cửa", "đóng cửa", "giờ", "open", "opening hours", "close", "hours"},
		answers: map[string]string{
			"vi": "Nhà hàng mở cửa từ 10:00 đến 22:00 tất cả các ngày trong tuần.",
			"en": "We are open from 10:00 to 22:00, seven days a week.",
		},
	},
	{
		topic:    TopicMenu,
		keywords: []string{"thực đơn", "menu", "món", "dish", "food"},
		answers: map[string]string{
			"vi": "Thực đơn gồm các món cơm, bún, phở, món chay và đồ uống. Bạn có thể xem thực đơn đầy đủ trên ứng dụng.",
			"en": "Our menu has rice dishes, noodle soups, pho, vegetarian options and drinks. The full menu is available in the app.",
		},
	},
	{
		topic:    TopicPricing,
		keywords: []string{"giá", "bao nhiêu tiền", "bao nhiêu", "price", "cost", "how much"},
		answers: map[string]string{
			"vi": "Giá các món dao động từ 35.000đ đến 120.000đ. Bạn muốn hỏi giá món nào ạ?",
			"en": "Dishes range from 35,000 to 120,000 VND. Which dish would you like a price for?",
		},
	},
}

var genericAnswers = map[string]string{
	"vi": "Mình có thể giúp bạn về giờ mở cửa, thực đơn, giá cả và giao hàng. Bạn vui lòng nói rõ hơn câu hỏi nhé?",
	"en": "I can help with opening hours, our menu, prices and delivery. Could you please clarify your question?",
}

// MatchTopic scores text against every topic's keywords and returns the best one.
func MatchTopic(text string) Topic {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return TopicNone
	}

	best, bestScore := TopicNone, 0
	for _, rule := range topicRules {
		score := 0
		for _, word := range rule.keywords {
			if strings.Contains(normalized, word) {
				score += 3
			}
		}
		if score > bestScore {
			best, bestScore = rule.topic, score
		}
	}
	return best
}

// Fallback returns the deterministic canned answer for userText in language.
// It never returns an empty string.
func Fallback(language, userText string) string {
	lang := answerLanguage(language)
	topic := MatchTopic(userText)
	for _, rule := range topicRules {
		if rule.topic == topic {
			return rule.answers[lang]
		}
	}
	return genericAnswers[lang]
}

// answerLanguage maps a session language tag to one of the canned answer languages.
func answerLanguage(language string) string {
	tag := strings.ToLower(strings.TrimSpace(language))
	if tag == "vi" || strings.HasPrefix(tag, "vi-") || strings.HasPrefix(tag, "vi_") {
		return "vi"
	}
	return "en"
}
