package reply

import "seylanebot/internal/models"

const (
	greetingReply = "Hi there! 👋 I'm here to help you find the perfect products. What are you looking for today?"
	goodbyeReply  = "Thank you for chatting! Feel free to reach out anytime you need help. Have a great day! 👋"
	helpReply     = `I can help you with:
🛍️ Finding products - Just describe what you're looking for
❓ Answering questions about our store
📦 Checking product availability

Try asking me something like "I'm looking for a red dress under $50" or "Do you have running shoes?"`
)

// CannedReply returns the fixed text for intents that have one.
func CannedReply(intent models.IntentType) (string, bool) {
	switch intent {
	case models.IntentGreeting:
		return greetingReply, true
	case models.IntentGoodbye:
		return goodbyeReply, true
	case models.IntentHelp:
		return helpReply, true
	}
	return "", false
}
