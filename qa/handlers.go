package qa

import (
	"context"
	"errors"

	"github.com/benchd/benchd/dispatch"
)

// Handlers returns the method table for a Q&A deployment.
func (s *Session) Handlers() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"ask_question": func(ctx context.Context, params dispatch.Params) (any, error) {
			question := params.String("question", "")
			if question == "" {
				return nil, errors.New("No question provided")
			}
			return s.Ask(question, params.String("context", ""), params.String("category", "")), nil
		},
		"record_answer": func(ctx context.Context, params dispatch.Params) (any, error) {
			questionID := params.Int("question_id", 0)
			if questionID == 0 {
				return nil, errors.New("No question_id provided")
			}
			return s.RecordAnswer(questionID, params.String("answer", "")), nil
		},
		"get_session_summary": func(ctx context.Context, params dispatch.Params) (any, error) {
			return s.Summarize(), nil
		},
		"clear_session": func(ctx context.Context, params dispatch.Params) (any, error) {
			return s.Clear(), nil
		},
	}
}
