package service

import (
	"regexp"
	"strings"
)

const (
	WaitingReply  = "Thank you for your message! Please wait while our team reviews your request..."
	FallbackReply = "Thank you for your message! Our team will get back to you soon."
)

type replyRule struct {
	keywords []string
	pattern  *regexp.Regexp
	reply    string
}

func (r replyRule) matches(text string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(text)
	}
	for _, k := range r.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Responder picks the automated first reply for a visitor's message. Rules
// are checked in order and the first match wins.
type Responder struct {
	rules    []replyRule
	fallback string
}

func NewResponder() *Responder {
	return &Responder{
		rules: []replyRule{
			{
				// Whole words only, so "this" or "which" are not greetings.
				pattern: regexp.MustCompile(`\b(hello|hi|hey)\b`),
				reply:   "Hello! Welcome to MSV Eyeworks. How can I help you find the perfect eyewear today?",
			},
			{
				keywords: []string{"frame", "glasses", "eyeglasses"},
				reply:    "We offer a wide range of high-quality frames including designer brands, sports frames, and everyday options. Would you like to see our current collection?",
			},
			{
				keywords: []string{"sunglass", "sun", "shade"},
				reply:    "Our sunglasses collection includes polarized and UV-protective options from top brands. We have both fashion and performance sunglasses available.",
			},
			{
				keywords: []string{"contact", "lens"},
				reply:    "We provide contact lenses from major brands including daily, monthly, and extended wear options. Our optometrists can help you find the perfect fit.",
			},
			{
				keywords: []string{"appointment", "schedule", "book"},
				reply:    "I can help you schedule an eye exam or fitting appointment. Our optometrists are available Monday through Saturday. Would you like to book a specific time?",
			},
			{
				keywords: []string{"eye exam", "checkup", "test"},
				reply:    "Our comprehensive eye exams include vision testing, eye health screening, and prescription updates. The exam takes about 30-45 minutes.",
			},
			{
				keywords: []string{"price", "cost", "how much"},
				reply:    "Our prices vary by brand and type of eyewear. We have options ranging from budget-friendly to premium designer frames. Would you like information about a specific price range?",
			},
			{
				keywords: []string{"location", "address", "where"},
				reply:    "MSV Eyeworks is located in Rizal. We're open Monday-Saturday from 9 AM to 5 PM (closed Sundays). Would you like directions or our exact address?",
			},
			{
				keywords: []string{"ray-ban", "oakley", "gucci"},
				reply:    "Yes, we carry designer brands including Ray-Ban, Oakley, Gucci, and many more. All our designer eyewear comes with authenticity guarantee.",
			},
			{
				keywords: []string{"help", "assist", "support"},
				reply:    "I'm here to help! You can ask me about our products, services, appointments, pricing, or any other questions about MSV Eyeworks.",
			},
			{
				keywords: []string{"thank", "thanks"},
				reply:    "You're welcome! Is there anything else I can help you with today?",
			},
			{
				keywords: []string{"bye", "goodbye"},
				reply:    "Thank you for visiting MSV Eyeworks! Feel free to reach out anytime. Have a great day!",
			},
		},
		fallback: "Thank you for your message! For specific product inquiries or to schedule an appointment, you can call our store directly or visit us in Rizal. Our staff will be happy to assist you personally.",
	}
}

func (r *Responder) Reply(message string) string {
	text := strings.ToLower(message)
	for _, rule := range r.rules {
		if rule.matches(text) {
			return rule.reply
		}
	}
	return r.fallback
}
