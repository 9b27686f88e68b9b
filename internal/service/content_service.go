package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/internal/repository"
	"cyberrange_backend/internal/util"
	"cyberrange_backend/pkg/logger"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContentService is the instructor-facing authoring surface for labs,
// assessments and challenges. Publishing is one-way per entity; editing a
// published assessment's questions is allowed but never rewrites results of
// attempts already finalized.
type ContentService struct {
	Labs        *repository.LabRepository
	Assessments *repository.AssessmentRepository
	Challenges  *repository.ChallengeRepository
	Storage     *StorageService
}

func NewContentService(labs *repository.LabRepository, assessments *repository.AssessmentRepository, challenges *repository.ChallengeRepository, storage *StorageService) *ContentService {
	return &ContentService{
		Labs:        labs,
		Assessments: assessments,
		Challenges:  challenges,
		Storage:     storage,
	}
}

func (s *ContentService) CreateLab(lab *model.Lab) error {
	if lab.Title == "" || lab.Image == "" {
		return util.StateErr("lab requires a title and a container image")
	}
	return s.Labs.Create(lab)
}

func (s *ContentService) UpdateLab(lab *model.Lab) error {
	return s.Labs.Update(lab)
}

func (s *ContentService) PublishLab(id uint) (*model.Lab, error) {
	lab, err := s.Labs.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("lab %d not found", id)
		}
		return nil, err
	}
	if lab.IsPublished {
		return lab, nil
	}
	now := time.Now()
	lab.IsPublished = true
	lab.PublishedAt = &now
	if err := s.Labs.Update(lab); err != nil {
		return nil, err
	}
	return lab, nil
}

func (s *ContentService) DeleteLab(id uint) error {
	return s.Labs.Delete(id)
}

func (s *ContentService) ListLabs(page, limit int, publishedOnly bool, category string) ([]model.Lab, int64, error) {
	return s.Labs.List(page, limit, publishedOnly, category)
}

func (s *ContentService) GetLab(id uint, includeUnpublished bool) (*model.Lab, error) {
	lab, err := s.Labs.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("lab %d not found", id)
		}
		return nil, err
	}
	if !lab.IsPublished && !includeUnpublished {
		return nil, util.NotFoundErr("lab %d not found", id)
	}
	return lab, nil
}

func (s *ContentService) CreateAssessment(a *model.Assessment) error {
	if a.Title == "" {
		return util.StateErr("assessment requires a title")
	}
	if a.PassingThreshold <= 0 || a.PassingThreshold > 100 {
		a.PassingThreshold = 70
	}
	return s.Assessments.Create(a)
}

func (s *ContentService) UpdateAssessment(a *model.Assessment) error {
	return s.Assessments.Update(a)
}

func (s *ContentService) PublishAssessment(id uint) (*model.Assessment, error) {
	a, err := s.Assessments.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("assessment %d not found", id)
		}
		return nil, err
	}
	questions, err := s.Assessments.ListQuestions(id)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, util.StateErr("assessment has no questions")
	}
	if a.IsPublished {
		return a, nil
	}
	now := time.Now()
	a.IsPublished = true
	a.PublishedAt = &now
	if err := s.Assessments.Update(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ContentService) DeleteAssessment(id uint) error {
	return s.Assessments.Delete(id)
}

func (s *ContentService) ListAssessments(page, limit int, publishedOnly bool) ([]model.Assessment, int64, error) {
	return s.Assessments.List(page, limit, publishedOnly)
}

func (s *ContentService) GetAssessment(id uint, includeUnpublished bool) (*model.Assessment, error) {
	a, err := s.Assessments.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("assessment %d not found", id)
		}
		return nil, err
	}
	if !a.IsPublished && !includeUnpublished {
		return nil, util.NotFoundErr("assessment %d not found", id)
	}
	return a, nil
}

// ListQuestions returns the ordered question list. The answer key is tagged
// out of JSON serialization, so handing these to students is safe.
func (s *ContentService) ListQuestions(assessmentID uint) ([]model.AssessmentQuestion, error) {
	return s.Assessments.ListQuestions(assessmentID)
}

func (s *ContentService) AddQuestion(q *model.AssessmentQuestion) error {
	if !KnownQuestionKind(q.QuestionType) {
		return util.StateErr("unknown question type %q", q.QuestionType)
	}
	if q.Points < 0 {
		return util.StateErr("question points cannot be negative")
	}
	if _, err := s.Assessments.FindByID(q.AssessmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.NotFoundErr("assessment %d not found", q.AssessmentID)
		}
		return err
	}
	return s.Assessments.CreateQuestion(q)
}

// UpdateQuestion replaces a question's definition. Attempts already graded
// against the old definition keep their results.
func (s *ContentService) UpdateQuestion(id uint, in *model.AssessmentQuestion) (*model.AssessmentQuestion, error) {
	existing, err := s.Assessments.FindQuestionByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("question %d not found", id)
		}
		return nil, err
	}
	if !KnownQuestionKind(in.QuestionType) {
		return nil, util.StateErr("unknown question type %q", in.QuestionType)
	}
	if in.Points < 0 {
		return nil, util.StateErr("question points cannot be negative")
	}
	in.ID = existing.ID
	in.AssessmentID = existing.AssessmentID
	in.CreatedAt = existing.CreatedAt
	if err := s.Assessments.UpdateQuestion(in); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *ContentService) DeleteQuestion(id uint) error {
	if _, err := s.Assessments.FindQuestionByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.NotFoundErr("question %d not found", id)
		}
		return err
	}
	return s.Assessments.DeleteQuestion(id)
}

// CreateChallenge hashes the plaintext flag before anything touches the
// database; the plaintext is discarded.
func (s *ContentService) CreateChallenge(c *model.Challenge, flag string) error {
	if c.Title == "" || flag == "" {
		return util.StateErr("challenge requires a title and a flag")
	}
	if c.Points <= 0 {
		return util.StateErr("challenge points must be positive")
	}
	c.FlagHash = HashFlag(flag)
	return s.Challenges.Create(c)
}

// UpdateChallenge rewrites the flag hash only when a new plaintext is given.
func (s *ContentService) UpdateChallenge(c *model.Challenge, flag string) error {
	if flag != "" {
		c.FlagHash = HashFlag(flag)
	}
	return s.Challenges.Update(c)
}

func (s *ContentService) PublishChallenge(id uint) (*model.Challenge, error) {
	c, err := s.Challenges.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("challenge %d not found", id)
		}
		return nil, err
	}
	if c.IsPublished {
		return c, nil
	}
	c.IsPublished = true
	if err := s.Challenges.Update(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ContentService) DeleteChallenge(ctx context.Context, id uint) error {
	c, err := s.Challenges.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.NotFoundErr("challenge %d not found", id)
		}
		return err
	}
	if c.AttachmentName != "" {
		if err := s.Storage.Delete(ctx, c.AttachmentName); err != nil {
			logger.Log.Warn("Failed to delete challenge attachment",
				zap.Uint("challenge_id", id), zap.String("object", c.AttachmentName), zap.Error(err))
		}
	}
	return s.Challenges.Delete(id)
}

func (s *ContentService) ListChallenges(page, limit int, publishedOnly bool, category string) ([]model.Challenge, int64, error) {
	return s.Challenges.List(page, limit, publishedOnly, category)
}

func (s *ContentService) GetChallenge(id uint, includeUnpublished bool) (*model.Challenge, error) {
	c, err := s.Challenges.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("challenge %d not found", id)
		}
		return nil, err
	}
	if !c.IsPublished && !includeUnpublished {
		return nil, util.NotFoundErr("challenge %d not found", id)
	}
	return c, nil
}

// AttachFile uploads a challenge attachment and stores its URL on the
// challenge.
func (s *ContentService) AttachFile(ctx context.Context, challengeID uint, filename string, reader io.Reader, size int64, contentType string) (*model.Challenge, error) {
	c, err := s.Challenges.FindByID(challengeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundErr("challenge %d not found", challengeID)
		}
		return nil, err
	}
	name := fmt.Sprintf("attachments/%d/%s%s", challengeID, uuid.New().String(), filepath.Ext(filename))
	url, err := s.Storage.Upload(ctx, name, reader, size, contentType)
	if err != nil {
		return nil, err
	}
	if c.AttachmentName != "" && c.AttachmentName != name {
		if err := s.Storage.Delete(ctx, c.AttachmentName); err != nil {
			logger.Log.Warn("Failed to delete replaced attachment",
				zap.Uint("challenge_id", challengeID), zap.String("object", c.AttachmentName), zap.Error(err))
		}
	}
	c.Attachment = url
	c.AttachmentName = name
	if err := s.Challenges.Update(c); err != nil {
		return nil, err
	}
	return c, nil
}
