// Package qa keeps interactive question/answer bookkeeping for a working
// session: questions asked, answers recorded, and a session event log.
// State is in-memory only and scoped to the server's lifetime.
package qa

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Question statuses.
const (
	StatusPending  = "pending"
	StatusAnswered = "answered"
)

// Question is one asked question and, once recorded, its answer.
type Question struct {
	ID         int    `json:"id"`
	Question   string `json:"question"`
	Context    string `json:"context,omitempty"`
	Category   string `json:"category"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	Answer     string `json:"answer,omitempty"`
	AnsweredAt string `json:"answered_at,omitempty"`
}

// Event is one session log entry.
type Event struct {
	Action     string `json:"action"`
	QuestionID int    `json:"question_id"`
	Timestamp  string `json:"timestamp"`
}

// Session holds the questions and events of one Q&A session.
type Session struct {
	log *zap.SugaredLogger

	mu        sync.Mutex
	questions []*Question
	events    []Event
}

type Option func(s *Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.log = l.Named("qa").Sugar()
	}
}

func NewSession(opts ...Option) *Session {
	s := &Session{log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AskResult is the result of asking a question.
type AskResult struct {
	QuestionID        int    `json:"question_id"`
	FormattedQuestion string `json:"formatted_question"`
	Success           bool   `json:"success"`
}

// Ask registers a pending question and returns a display block for
// presenting it to the user.
func (s *Session) Ask(question, context, category string) AskResult {
	if category == "" {
		category = "general"
	}

	s.mu.Lock()
	id := len(s.questions) + 1
	s.questions = append(s.questions, &Question{
		ID:        id,
		Question:  question,
		Context:   context,
		Category:  category,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    StatusPending,
	})
	s.mu.Unlock()

	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", rule)
	fmt.Fprintf(&b, "Q&A SERVER - Question #%d\n", id)
	fmt.Fprintf(&b, "Category: %s\n", strings.ToUpper(category))
	fmt.Fprintf(&b, "%s\n\n", rule)
	if context != "" {
		fmt.Fprintf(&b, "CONTEXT:\n%s\n\n", context)
	}
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", question)
	fmt.Fprintf(&b, "Please provide your answer/decision:\n%s\n", rule)

	return AskResult{QuestionID: id, FormattedQuestion: b.String(), Success: true}
}

// AnswerResult is the result of recording an answer.
type AnswerResult struct {
	Success    bool   `json:"success"`
	QuestionID int    `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RecordAnswer marks a pending question answered.
func (s *Session) RecordAnswer(questionID int, answer string) AnswerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var q *Question
	for _, cand := range s.questions {
		if cand.ID == questionID {
			q = cand
			break
		}
	}
	if q == nil {
		return AnswerResult{Error: fmt.Sprintf("Question %d not found", questionID)}
	}

	q.Answer = answer
	q.AnsweredAt = time.Now().UTC().Format(time.RFC3339)
	q.Status = StatusAnswered
	s.events = append(s.events, Event{
		Action:     "answer_recorded",
		QuestionID: questionID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})

	return AnswerResult{Success: true, QuestionID: questionID, Answer: answer}
}

// Summary is a snapshot of the session.
type Summary struct {
	TotalQuestions int        `json:"total_questions"`
	Answered       int        `json:"answered"`
	Pending        int        `json:"pending"`
	Questions      []Question `json:"questions"`
	SessionLog     []Event    `json:"session_log"`
}

// Summarize returns the current session snapshot.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		TotalQuestions: len(s.questions),
		Questions:      make([]Question, 0, len(s.questions)),
		SessionLog:     append([]Event{}, s.events...),
	}
	for _, q := range s.questions {
		sum.Questions = append(sum.Questions, *q)
		if q.Status == StatusAnswered {
			sum.Answered++
		} else {
			sum.Pending++
		}
	}
	return sum
}

// ClearResult is the result of clearing the session.
type ClearResult struct {
	Success          bool `json:"success"`
	ClearedQuestions int  `json:"cleared_questions"`
}

// Clear drops all questions and session events.
func (s *Session) Clear() ClearResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := len(s.questions)
	s.questions = nil
	s.events = nil
	return ClearResult{Success: true, ClearedQuestions: cleared}
}
