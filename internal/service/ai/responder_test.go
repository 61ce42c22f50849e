package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	promptModel "github.com/zhouzirui/z-tavern/support/internal/model/prompt"
)

type fakeChatModel struct {
	mu     sync.Mutex
	calls  int
	inputs [][]*schema.Message
	reply  string
	err    error
	block  chan struct{}
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported by fake")
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error {
	return nil
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newResponder(t *testing.T, chatModel model.ChatModel, timeout time.Duration) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), chatModel, promptModel.NewMemorySource(promptModel.Seed()), Options{Timeout: timeout}, nil)
	require.NoError(t, err)
	return svc
}

func TestRespondUsesBackendAnswer(t *testing.T) {
	fake := &fakeChatModel{reply: "  Chúng tôi mở cửa lúc 10 giờ.  "}
	svc := newResponder(t, fake, time.Second)

	answer := svc.Respond(context.Background(), "vi", "Mấy giờ mở cửa?")

	assert.Equal(t, "Chúng tôi mở cửa lúc 10 giờ.", answer)
	require.Equal(t, 1, fake.callCount())
	require.Len(t, fake.inputs[0], 1)
	sent := fake.inputs[0][0]
	assert.Equal(t, schema.User, sent.Role)
	assert.True(t, strings.HasPrefix(sent.Content, "Bạn là trợ lý"), sent.Content)
	assert.True(t, strings.HasSuffix(sent.Content, "User: Mấy giờ mở cửa?"), sent.Content)
}

func TestRespondFallsBackOnBackendError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("502 bad gateway")}
	svc := newResponder(t, fake, time.Second)

	answer := svc.Respond(context.Background(), "en", "Do you deliver?")

	assert.Equal(t, Fallback("en", "Do you deliver?"), answer)
	assert.Equal(t, 1, fake.callCount())
}

func TestRespondFallsBackOnEmptyContent(t *testing.T) {
	svc := newResponder(t, &fakeChatModel{reply: "   "}, time.Second)

	answer := svc.Respond(context.Background(), "en", "hello")

	assert.Equal(t, genericAnswers["en"], answer)
}

func TestRespondFallsBackOnTimeout(t *testing.T) {
	fake := &fakeChatModel{reply: "late", block: make(chan struct{})}
	defer close(fake.block)
	svc := newResponder(t, fake, 20*time.Millisecond)

	start := time.Now()
	answer := svc.Respond(context.Background(), "vi", "Giờ giao hàng của bạn là gì?")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, topicRules[0].answers["vi"], answer)
}

func TestRespondWithoutBackend(t *testing.T) {
	svc := newResponder(t, nil, 0)

	assert.False(t, svc.Enabled())
	assert.Equal(t, topicRules[0].answers["vi"], svc.Respond(context.Background(), "vi", "Giờ giao hàng của bạn là gì?"))
}

func TestBuildInstruction(t *testing.T) {
	templates := []promptModel.Template{
		{SystemPrompt: "First.", UserExamples: []string{"q1"}, AssistantExamples: []string{"a1"}},
		{SystemPrompt: "Second."},
	}

	got := BuildInstruction(templates, "live question")

	want := "First.\n\nUser: q1\nAssistant: a1\n\nSecond.\n\nUser: live question"
	assert.Equal(t, want, got)
}

func TestMatchTopic(t *testing.T) {
	tests := map[string]Topic{
		"Giờ giao hàng của bạn là gì?":   TopicDelivery,
		"How much is the delivery fee?":  TopicDelivery,
		"Do you have a vegetarian menu?": TopicVegetarian,
		"Quán có món chay không?":        TopicVegetarian,
		"What are your opening hours?":   TopicOpeningHours,
		"Cho mình xem thực đơn":          TopicMenu,
		"Phở giá bao nhiêu?":             TopicPricing,
		"xin chào":                       TopicNone,
		"":                               TopicNone,
	}

	for text, want := range tests {
		assert.Equal(t, want, MatchTopic(text), text)
	}
}

func TestFallbackNeverEmpty(t *testing.T) {
	for _, lang := range []string{"vi", "en", "fr", "", "vi-VN"} {
		for _, text := range []string{"", "menu", "random words"} {
			assert.NotEmpty(t, Fallback(lang, text), "lang=%q text=%q", lang, text)
		}
	}
	assert.Equal(t, genericAnswers["vi"], Fallback("vi-VN", "xin chào"))
}
