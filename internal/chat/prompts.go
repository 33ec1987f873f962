package chat

import (
	"errors"
	"strings"
)

const (
	PersonalityGentle   = "gentle"
	PersonalityRational = "rational"
	PersonalityLively   = "lively"

	LanguageZH = "zh"
	LanguageEN = "en"
)

var (
	ErrInvalidPersonality = errors.New("invalid_personality")
	ErrEmptyMessage       = errors.New("empty_message")
)

var systemPrompts = map[string]map[string]string{
	PersonalityGentle: {
		LanguageZH: "你是一个温柔、关怀的情感陪伴者，像一个总是理解用户的贴心朋友。你的回复应该充满同理心、温暖和支持。用温柔的语气，表达关怀和理解。",
		LanguageEN: "You are a gentle, caring emotional companion, like a caring friend who always understands the user. Your responses should be full of empathy, warmth and support. Use a gentle tone and express care and understanding.",
	},
	PersonalityRational: {
		LanguageZH: "你是一个理性、智慧的导师，帮助用户清晰思考问题。你的回复应该分析性强、有逻辑、提供深思熟虑的观点和建议。保持客观但关怀的态度。",
		LanguageEN: "You are a rational, wise mentor who helps users think clearly about problems. Your responses should be analytical, logical, and provide thoughtful perspectives and advice. Maintain an objective but caring attitude.",
	},
	PersonalityLively: {
		LanguageZH: "你是一个活泼、充满活力的伙伴，带来欢乐和笑声。你的回复应该积极向上、幽默风趣、充满正能量。用轻松愉快的语气，帮助用户看到生活的美好一面。",
		LanguageEN: "You are a lively, energetic companion who brings joy and laughter. Your responses should be positive, humorous, and full of positive energy. Use a light-hearted tone to help users see the bright side of life.",
	},
}

var fallbackReplies = map[string]string{
	LanguageZH: "抱歉，我现在无法回复。请稍后再试。",
	LanguageEN: "Sorry, I cannot reply right now. Please try again later.",
}

// Message is one entry of an OpenAI-style chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry is a message as the browser keeps it.
type HistoryEntry struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type Request struct {
	Message     string
	Personality string
	Language    string
	History     []HistoryEntry
}

// NormalizeLanguage maps anything but "en" to Chinese.
func NormalizeLanguage(language string) string {
	if strings.EqualFold(strings.TrimSpace(language), LanguageEN) {
		return LanguageEN
	}
	return LanguageZH
}

func FallbackReply(language string) string {
	return fallbackReplies[NormalizeLanguage(language)]
}

// BuildMessages assembles the system prompt, the last historyLimit history
// entries and the new user message.
func BuildMessages(req Request, historyLimit int) ([]Message, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	prompts, ok := systemPrompts[strings.ToLower(strings.TrimSpace(req.Personality))]
	if !ok {
		return nil, ErrInvalidPersonality
	}

	history := req.History
	if historyLimit >= 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: prompts[NormalizeLanguage(req.Language)]})
	for _, entry := range history {
		role := "assistant"
		if entry.Sender == "user" {
			role = "user"
		}
		messages = append(messages, Message{Role: role, Content: entry.Content})
	}
	messages = append(messages, Message{Role: "user", Content: text})
	return messages, nil
}
