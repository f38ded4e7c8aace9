package gpt

import "strings"

var intentKeywords = []string{
	"купить", "куплю", "покупк", "заказать", "оформить",
	"buy", "purchase", "order",
}

var topicKeywords = []string{
	"золот", "слит", "грамм", "цена", "стоимост", "инвест",
	"gold", "bullion", "gram", "price", "invest",
}

const (
	keywordReply  = "Похоже, вы хотите купить золото. Перейдите по ссылке, чтобы оформить покупку."
	fallbackReply = "Я помогаю с покупкой физического золота. Спросите о цене или напишите, сколько грамм хотите купить."
)

// ClassifyKeywords is the offline fallback: a purchase verb together with a
// topic word is relevant with moderate confidence, a topic word alone is weak.
func ClassifyKeywords(text string) Classification {
	lower := strings.ToLower(text)
	intent := containsAny(lower, intentKeywords)
	topic := containsAny(lower, topicKeywords)

	switch {
	case intent && topic:
		return Classification{IsRelevant: true, Confidence: 0.7, Reply: keywordReply, Summary: text, Source: SourceKeywords}
	case intent || topic:
		return Classification{IsRelevant: true, Confidence: 0.4, Reply: fallbackReply, Summary: text, Source: SourceKeywords}
	default:
		return Classification{IsRelevant: false, Confidence: 0.1, Reply: fallbackReply, Source: SourceKeywords}
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
