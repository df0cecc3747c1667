package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"quizroom/models"

	"gorm.io/gorm"
)

// QuestionSource is the read-only view of the question bank.
type QuestionSource interface {
	// ListQuestions returns the active questions of ownerID at exactly level.
	ListQuestions(ctx context.Context, ownerID uint, level int) ([]models.Question, error)
	GetQuestion(ctx context.Context, id uint) (*models.Question, error)
}

type GormQuestionSource struct {
	db *gorm.DB
}

func NewGormQuestionSource(db *gorm.DB) *GormQuestionSource {
	return &GormQuestionSource{db: db}
}

func (s *GormQuestionSource) ListQuestions(ctx context.Context, ownerID uint, level int) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND level = ? AND active = ?", ownerID, level, true).
		Order("id").
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

func (s *GormQuestionSource) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	var q models.Question
	if err := s.db.WithContext(ctx).First(&q, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get question %d: %w", id, err)
	}
	return &q, nil
}

// Seed inserts questions, typically ones read by LoadQuestionsFile.
func (s *GormQuestionSource) Seed(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(questions, 100).Error
}

// SeedOnce seeds questions for ownerID only if that owner has none yet, so a
// restart does not duplicate the bank.
func (s *GormQuestionSource) SeedOnce(ctx context.Context, ownerID uint, questions []models.Question) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Question{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count questions for owner %d: %w", ownerID, err)
	}
	if n > 0 {
		return false, nil
	}
	return true, s.Seed(ctx, questions)
}

// MemoryQuestionSource serves a fixed bank held in memory.
type MemoryQuestionSource struct {
	mu        sync.RWMutex
	questions map[uint]models.Question
	nextID    uint
}

func NewMemoryQuestionSource(questions ...models.Question) *MemoryQuestionSource {
	s := &MemoryQuestionSource{questions: make(map[uint]models.Question)}
	for _, q := range questions {
		s.Add(q)
	}
	return s
}

// Add stores q and returns its ID. A zero ID is assigned from the source's
// own sequence.
func (s *MemoryQuestionSource) Add(q models.Question) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		s.nextID++
		q.ID = s.nextID
	} else if q.ID > s.nextID {
		s.nextID = q.ID
	}
	s.questions[q.ID] = q
	return q.ID
}

func (s *MemoryQuestionSource) ListQuestions(ctx context.Context, ownerID uint, level int) ([]models.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Question{}
	for _, q := range s.questions {
		if q.OwnerID == ownerID && q.Level == level && q.Active {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryQuestionSource) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return &q, nil
}

type questionFileEntry struct {
	Level       int      `json:"level"`
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	Correct     string   `json:"correct"`
	Explanation string   `json:"explanation"`
}

// LoadQuestionsFile reads a JSON array of questions and assigns them to
// ownerID. Each entry carries a level, the question text, exactly four
// options and the correct letter.
func LoadQuestionsFile(path string, ownerID uint) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	var entries []questionFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse question file %s: %w", path, err)
	}

	questions := make([]models.Question, 0, len(entries))
	for i, e := range entries {
		if len(e.Options) != len(models.OptionLetters) {
			return nil, fmt.Errorf("question %d in %s: want %d options, got %d", i, path, len(models.OptionLetters), len(e.Options))
		}
		if e.Level < 1 || e.Level > 15 {
			return nil, fmt.Errorf("question %d in %s: level %d out of range", i, path, e.Level)
		}
		correct := models.ParseOption(e.Correct)
		if correct == nil {
			return nil, fmt.Errorf("question %d in %s: bad correct option %q", i, path, e.Correct)
		}
		questions = append(questions, models.Question{
			OwnerID:       ownerID,
			Level:         e.Level,
			Text:          strings.TrimSpace(e.Text),
			OptionA:       e.Options[0],
			OptionB:       e.Options[1],
			OptionC:       e.Options[2],
			OptionD:       e.Options[3],
			CorrectOption: *correct,
			Explanation:   e.Explanation,
			Active:        true,
		})
	}
	return questions, nil
}
