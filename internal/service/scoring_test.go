package service

import (
	"cyberrange_backend/internal/model"
	"encoding/json"
	"testing"
)

func question(id uint, kind string, answer string, points int) model.AssessmentQuestion {
	q := model.AssessmentQuestion{
		QuestionType: kind,
		Points:       points,
	}
	q.ID = id
	if answer != "" {
		q.Answer = json.RawMessage(answer)
	}
	return q
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestScoreMultiSelectOrderIndependent(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionMultiSelect, `[0,1,2]`, 10),
	}

	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"same order", `[0,1,2]`, OutcomeCorrect},
		{"shuffled", `[2,0,1]`, OutcomeCorrect},
		{"subset gets no partial credit", `[0,1]`, OutcomeIncorrect},
		{"superset", `[0,1,2,3]`, OutcomeIncorrect},
		{"disjoint", `[3,4,5]`, OutcomeIncorrect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Score(questions, map[uint]json.RawMessage{1: raw(tt.answer)}, 70)
			if got := result.Questions[0].Outcome; got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScoreFillBlankNormalization(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionFillBlank, `["SQL Injection","SQLi"]`, 5),
	}

	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"exact", `"SQL Injection"`, OutcomeCorrect},
		{"case insensitive", `"sql injection"`, OutcomeCorrect},
		{"surrounding whitespace", `"  SQLi  "`, OutcomeCorrect},
		{"wrong", `"XSS"`, OutcomeIncorrect},
		{"internal whitespace differs", `"SQL  Injection"`, OutcomeIncorrect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Score(questions, map[uint]json.RawMessage{1: raw(tt.answer)}, 70)
			if got := result.Questions[0].Outcome; got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScoreMatchingAllOrNothing(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionMatching, `{"nmap":"recon","hydra":"bruteforce"}`, 8),
	}

	correct := Score(questions, map[uint]json.RawMessage{
		1: raw(`{"hydra":"bruteforce","nmap":"recon"}`),
	}, 70)
	if correct.Questions[0].Outcome != OutcomeCorrect {
		t.Errorf("all pairs matched: outcome = %s, want correct", correct.Questions[0].Outcome)
	}

	onePairWrong := Score(questions, map[uint]json.RawMessage{
		1: raw(`{"nmap":"recon","hydra":"recon"}`),
	}, 70)
	if onePairWrong.Questions[0].Outcome != OutcomeIncorrect {
		t.Errorf("one wrong pair: outcome = %s, want incorrect", onePairWrong.Questions[0].Outcome)
	}
	if onePairWrong.Questions[0].PointsAwarded != 0 {
		t.Errorf("one wrong pair awarded %d points, want 0", onePairWrong.Questions[0].PointsAwarded)
	}
}

func TestScorePassingThresholdInclusive(t *testing.T) {
	// Four questions worth 10 each; three correct is exactly 75%.
	questions := []model.AssessmentQuestion{
		question(1, QuestionTrueFalse, `true`, 10),
		question(2, QuestionTrueFalse, `true`, 10),
		question(3, QuestionTrueFalse, `true`, 10),
		question(4, QuestionTrueFalse, `true`, 10),
	}
	answers := map[uint]json.RawMessage{
		1: raw(`true`), 2: raw(`true`), 3: raw(`true`), 4: raw(`false`),
	}

	result := Score(questions, answers, 75)
	if result.Percentage != 75 {
		t.Fatalf("percentage = %d, want 75", result.Percentage)
	}
	if !result.Passed {
		t.Error("percentage equal to threshold must pass")
	}

	result = Score(questions, answers, 76)
	if result.Passed {
		t.Error("percentage below threshold must not pass")
	}
}

func TestScoreRoundsHalfUp(t *testing.T) {
	// 17 of 24 points is 70.83..., which rounds to 71.
	questions := []model.AssessmentQuestion{
		question(1, QuestionSingleChoice, `2`, 17),
		question(2, QuestionSingleChoice, `0`, 7),
	}
	result := Score(questions, map[uint]json.RawMessage{1: raw(`2`), 2: raw(`1`)}, 70)
	if result.Percentage != 71 {
		t.Errorf("percentage = %d, want 71", result.Percentage)
	}
	if !result.Passed {
		t.Error("71 must pass a threshold of 70")
	}
}

func TestScorePendingExcludedFromDenominator(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionTrueFalse, `true`, 10),
		question(2, QuestionCodeSubmission, "", 20),
		question(3, QuestionEssay, "", 15),
	}
	result := Score(questions, map[uint]json.RawMessage{
		1: raw(`true`),
		2: raw(`"print('hi')"`),
	}, 70)

	if result.PendingCount != 2 {
		t.Errorf("pendingCount = %d, want 2", result.PendingCount)
	}
	if result.Possible != 10 {
		t.Errorf("possible = %d, want 10 (pending excluded)", result.Possible)
	}
	if result.Percentage != 100 {
		t.Errorf("percentage = %d, want 100", result.Percentage)
	}
}

func TestScoreNoGradablePoints(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionEssay, "", 30),
	}
	result := Score(questions, nil, 70)
	if result.Percentage != 0 {
		t.Errorf("percentage = %d, want 0 when nothing is gradable", result.Percentage)
	}
	if result.Passed {
		t.Error("attempt with no gradable points must not pass")
	}
}

func TestScoreUnansweredIsIncorrect(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionSingleChoice, `1`, 10),
		question(2, QuestionTrueFalse, `false`, 10),
	}
	result := Score(questions, map[uint]json.RawMessage{1: raw(`1`)}, 70)
	if result.Questions[1].Outcome != OutcomeIncorrect {
		t.Errorf("unanswered outcome = %s, want incorrect", result.Questions[1].Outcome)
	}
	if result.Score != 10 {
		t.Errorf("score = %d, want 10", result.Score)
	}
}

func TestScoreDeterministic(t *testing.T) {
	questions := []model.AssessmentQuestion{
		question(1, QuestionMultiSelect, `[1,3]`, 10),
		question(2, QuestionFillBlank, `"flag"`, 5),
		question(3, QuestionMatching, `{"a":"b"}`, 5),
	}
	answers := map[uint]json.RawMessage{
		1: raw(`[3,1]`),
		2: raw(`" FLAG "`),
		3: raw(`{"a":"b"}`),
	}

	first := Score(questions, answers, 70)
	for i := 0; i < 50; i++ {
		again := Score(questions, answers, 70)
		if again.Score != first.Score || again.Percentage != first.Percentage || again.Passed != first.Passed {
			t.Fatalf("run %d produced %+v, first run produced %+v", i, again, first)
		}
	}
}
