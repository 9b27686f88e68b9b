package service

import (
	"cyberrange_backend/internal/model"
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// Question kinds the scoring engine grades automatically. code_submission and
// essay need a human and come back as pending.
const (
	QuestionSingleChoice   = "single_choice"
	QuestionMultiSelect    = "multi_select"
	QuestionTrueFalse      = "true_false"
	QuestionFillBlank      = "fill_blank"
	QuestionMatching       = "matching"
	QuestionCodeSubmission = "code_submission"
	QuestionEssay          = "essay"
)

// Outcome of grading a single question.
const (
	OutcomeCorrect   = "correct"
	OutcomeIncorrect = "incorrect"
	OutcomePending   = "pending"
)

// KnownQuestionKind reports whether kind is one the engine understands.
// Authoring rejects anything else up front.
func KnownQuestionKind(kind string) bool {
	switch kind {
	case QuestionSingleChoice, QuestionMultiSelect, QuestionTrueFalse,
		QuestionFillBlank, QuestionMatching, QuestionCodeSubmission, QuestionEssay:
		return true
	}
	return false
}

// QuestionResult is the graded verdict for one question.
type QuestionResult struct {
	QuestionID     uint   `json:"questionId"`
	Outcome        string `json:"outcome"`
	PointsAwarded  int    `json:"pointsAwarded"`
	PointsPossible int    `json:"pointsPossible"`
}

// AttemptResult is the complete grading output. Percentage and Passed count
// only auto-gradable points; pending questions are excluded from the
// denominator until manually resolved.
type AttemptResult struct {
	Questions    []QuestionResult `json:"questions"`
	Score        int              `json:"score"`
	Possible     int              `json:"possible"`
	Percentage   int              `json:"percentage"`
	Passed       bool             `json:"passed"`
	PendingCount int              `json:"pendingCount"`
	Incomplete   bool             `json:"incomplete,omitempty"`
}

// Score grades a full answer set against the question list. Pure: same
// questions and answers always produce the same result. Unanswered questions
// grade as incorrect, except kinds that are pending regardless of answer.
func Score(questions []model.AssessmentQuestion, answers map[uint]json.RawMessage, passingThreshold int) AttemptResult {
	result := AttemptResult{Questions: make([]QuestionResult, 0, len(questions))}
	for _, q := range questions {
		qr := gradeQuestion(q, answers[q.ID])
		result.Questions = append(result.Questions, qr)
		switch qr.Outcome {
		case OutcomePending:
			result.PendingCount++
		default:
			result.Score += qr.PointsAwarded
			result.Possible += qr.PointsPossible
		}
	}
	result.Percentage = percentage(result.Score, result.Possible)
	result.Passed = result.Possible > 0 && result.Percentage >= passingThreshold
	return result
}

// percentage rounds half up; 17/24 is 71, not 70.
func percentage(score, possible int) int {
	if possible <= 0 {
		return 0
	}
	return int(math.Floor(float64(score)*100/float64(possible) + 0.5))
}

func gradeQuestion(q model.AssessmentQuestion, answer json.RawMessage) QuestionResult {
	qr := QuestionResult{QuestionID: q.ID, PointsPossible: q.Points}
	switch q.QuestionType {
	case QuestionCodeSubmission, QuestionEssay:
		qr.Outcome = OutcomePending
		qr.PointsPossible = 0
		return qr
	}
	if len(answer) == 0 {
		qr.Outcome = OutcomeIncorrect
		return qr
	}

	var correct bool
	switch q.QuestionType {
	case QuestionSingleChoice:
		correct = gradeSingleChoice(q.Answer, answer)
	case QuestionTrueFalse:
		correct = gradeTrueFalse(q.Answer, answer)
	case QuestionMultiSelect:
		correct = gradeMultiSelect(q.Answer, answer)
	case QuestionFillBlank:
		correct = gradeFillBlank(q.Answer, answer)
	case QuestionMatching:
		correct = gradeMatching(q.Answer, answer)
	}

	if correct {
		qr.Outcome = OutcomeCorrect
		qr.PointsAwarded = q.Points
	} else {
		qr.Outcome = OutcomeIncorrect
	}
	return qr
}

func gradeSingleChoice(key, answer json.RawMessage) bool {
	var want, got int
	if json.Unmarshal(key, &want) != nil || json.Unmarshal(answer, &got) != nil {
		return false
	}
	return want == got
}

func gradeTrueFalse(key, answer json.RawMessage) bool {
	var want, got bool
	if json.Unmarshal(key, &want) != nil || json.Unmarshal(answer, &got) != nil {
		return false
	}
	return want == got
}

// gradeMultiSelect compares as sets: order does not matter, and there is no
// partial credit for a subset.
func gradeMultiSelect(key, answer json.RawMessage) bool {
	var want, got []int
	if json.Unmarshal(key, &want) != nil || json.Unmarshal(answer, &got) != nil {
		return false
	}
	if len(want) != len(got) {
		return false
	}
	sort.Ints(want)
	sort.Ints(got)
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// gradeFillBlank accepts any of the key's accepted strings, compared after
// trimming surrounding whitespace and ignoring case. The key may be a single
// string or an array of accepted answers.
func gradeFillBlank(key, answer json.RawMessage) bool {
	var got string
	if json.Unmarshal(answer, &got) != nil {
		return false
	}
	got = strings.ToLower(strings.TrimSpace(got))

	var accepted []string
	if json.Unmarshal(key, &accepted) != nil {
		var single string
		if json.Unmarshal(key, &single) != nil {
			return false
		}
		accepted = []string{single}
	}
	for _, a := range accepted {
		if strings.ToLower(strings.TrimSpace(a)) == got {
			return true
		}
	}
	return false
}

// gradeMatching requires every pair to match; one wrong pairing scores zero.
func gradeMatching(key, answer json.RawMessage) bool {
	var want, got map[string]string
	if json.Unmarshal(key, &want) != nil || json.Unmarshal(answer, &got) != nil {
		return false
	}
	if len(want) != len(got) {
		return false
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
