package protocol

import "time"

// TranslationEvent is broadcast on the bus after each gateway request.
type TranslationEvent struct {
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	Error       string    `json:"error,omitempty"`
	Model       string    `json:"model,omitempty"`
	SourceLang  string    `json:"source_lang,omitempty"`
	TargetLang  string    `json:"target_lang,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectTranslateCompleted = "translate.completed"
	SubjectTranslateFailed    = "translate.failed"
)
