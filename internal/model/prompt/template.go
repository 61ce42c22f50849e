package prompt

// LanguageAll is the wildcard language used when no language-specific template exists.
const LanguageAll = "all"

// Template is an admin-managed instruction block scoped by language.
type Template struct {
	ID                string   `json:"id" yaml:"id"`
	Language          string   `json:"language" yaml:"language"`
	SystemPrompt      string   `json:"systemPrompt" yaml:"system_prompt"`
	UserExamples      []string `json:"userExamples,omitempty" yaml:"user_examples"`
	AssistantExamples []string `json:"assistantExamples,omitempty" yaml:"assistant_examples"`
	Active            bool     `json:"active" yaml:"active"`
	Priority          int      `json:"priority" yaml:"priority"`
}

// Seed provides the default catalog used when no template file is configured.
func Seed() []Template {
	return []Template{
		{
			ID:       "support-vi",
			Language: "vi",
			SystemPrompt: "Bạn là trợ lý chăm sóc khách hàng của nhà hàng. Trả lời ngắn gọn, lịch sự bằng tiếng Việt. " +
				"Nếu không chắc chắn, hãy đề nghị khách chờ nhân viên hỗ trợ.",
			UserExamples:      []string{"Nhà hàng mở cửa lúc mấy giờ?"},
			AssistantExamples: []string{"Nhà hàng mở cửa từ 10:00 đến 22:00 mỗi ngày ạ."},
			Active:            true,
			Priority:          10,
		},
		{
			ID:       "support-en",
			Language: "en",
			SystemPrompt: "You are the customer support assistant of a restaurant. Answer briefly and politely in English. " +
				"If you are unsure, offer to connect the customer with a staff member.",
			UserExamples:      []string{"What time do you open?"},
			AssistantExamples: []string{"We are open from 10:00 to 22:00 every day."},
			Active:            true,
			Priority:          10,
		},
		{
			ID:           "support-all",
			Language:     LanguageAll,
			SystemPrompt: "You are a friendly restaurant support assistant. Reply in the customer's language.",
			Active:       true,
			Priority:     100,
		},
	}
}
