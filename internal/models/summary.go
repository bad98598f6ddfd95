package models

import "github.com/shopspring/decimal"

// SummaryRequest represents the input for text summarization
type SummaryRequest struct {
	Text        string `json:"text"`
	Algorithm   string `json:"algorithm"`    // "textrank" by default
	SmartOption string `json:"smart_option"` // provider: "backend", "openai", "gemini", "local"
	Type        string `json:"type"`         // "paragraph" or "bullets"
	Length      string `json:"length"`       // "short", "medium", "long"
}

// SummaryStatistics compares the summary with the original text
type SummaryStatistics struct {
	OriginalWordCount          int             `json:"original_word_count"`
	SummaryWordCount           int             `json:"summary_word_count"`
	ReductionPercentage        decimal.Decimal `json:"reduction_percentage"`
	OriginalReadingTimeMinutes decimal.Decimal `json:"original_reading_time_minutes"`
	SummaryReadingTimeMinutes  decimal.Decimal `json:"summary_reading_time_minutes"`
}

// SummaryResult represents the output of summarization
type SummaryResult struct {
	OriginalText string            `json:"original_text"`
	Summary      string            `json:"summary"`
	Algorithm    string            `json:"algorithm"`
	SmartOption  string            `json:"smart_option"`
	Type         string            `json:"type"`
	Length       string            `json:"length"`
	Statistics   SummaryStatistics `json:"statistics"`
	Status       string            `json:"status"`
}
