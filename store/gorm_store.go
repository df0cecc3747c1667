package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizroom/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps rooms in postgres. Update locks the room row with
// SELECT ... FOR UPDATE so writers of one room queue behind each other.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the room, player, answer and question tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Room{},
		&models.Player{},
		&models.Answer{},
		&models.Question{},
	)
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) error {
	room.Code = NormalizeCode(room.Code)
	if room.Phase == "" {
		room.Phase = models.PhaseWaiting
	}

	// archived rooms keep their code
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.Room{}).Where("code = ?", room.Code).Count(&count).Error; err != nil {
		return translate(err, "check room code")
	}
	if count > 0 {
		return fmt.Errorf("room code %s: %w", room.Code, ErrConflict)
	}
	return translate(s.db.WithContext(ctx).Create(room).Error, "create room "+room.Code)
}

// DeleteRoom archives the room with its players and answers. Rows stay in
// the tables with deleted_at set, and the players lose their connections.
func (s *GormStore) DeleteRoom(ctx context.Context, roomID uint) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var room models.Room
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error; err != nil {
			return translate(err, fmt.Sprintf("room %d", roomID))
		}
		if err := db.Model(&models.Player{}).Where("room_id = ?", roomID).
			Updates(map[string]any{"connection_id": "", "connected": false}).Error; err != nil {
			return translate(err, "detach players")
		}
		if err := db.Where("room_id = ?", roomID).Delete(&models.Answer{}).Error; err != nil {
			return translate(err, "archive answers")
		}
		if err := db.Where("room_id = ?", roomID).Delete(&models.Player{}).Error; err != nil {
			return translate(err, "archive players")
		}
		return translate(db.Delete(&room).Error, "archive room")
	})
}

func (s *GormStore) GetRoom(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("room %d", roomID))
	}
	return &room, nil
}

func (s *GormStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	var room models.Room
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		return nil, translate(err, "room code "+code)
	}
	return &room, nil
}

func (s *GormStore) GetPlayer(ctx context.Context, playerID uint) (*models.Player, error) {
	var p models.Player
	if err := s.db.WithContext(ctx).First(&p, playerID).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("player %d", playerID))
	}
	return &p, nil
}

func (s *GormStore) FindPlayerByConnection(ctx context.Context, connID string) (*models.Player, error) {
	if connID == "" {
		return nil, fmt.Errorf("empty connection: %w", ErrNotFound)
	}
	var p models.Player
	if err := s.db.WithContext(ctx).Where("connection_id = ?", connID).Order("id").First(&p).Error; err != nil {
		return nil, translate(err, "connection "+connID)
	}
	return &p, nil
}

func (s *GormStore) PlayersByConnection(ctx context.Context, connID string) ([]models.Player, error) {
	if connID == "" {
		return nil, nil
	}
	var players []models.Player
	if err := s.db.WithContext(ctx).Where("connection_id = ?", connID).Order("id").Find(&players).Error; err != nil {
		return nil, translate(err, "connection "+connID)
	}
	return players, nil
}

func (s *GormStore) ListPlayers(ctx context.Context, roomID uint) ([]models.Player, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	var players []models.Player
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id").Find(&players).Error; err != nil {
		return nil, translate(err, "list players")
	}
	return players, nil
}

func (s *GormStore) ListAnswers(ctx context.Context, roomID uint, questionIndex int) ([]models.Answer, error) {
	return listAnswers(s.db.WithContext(ctx), roomID, questionIndex)
}

func listAnswers(db *gorm.DB, roomID uint, questionIndex int) ([]models.Answer, error) {
	q := db.Where("room_id = ?", roomID)
	if questionIndex >= 0 {
		q = q.Where("question_index = ?", questionIndex)
	}
	answers := []models.Answer{}
	if err := q.Order("id").Find(&answers).Error; err != nil {
		return nil, translate(err, "list answers")
	}
	return answers, nil
}

func (s *GormStore) UsedQuestionIDs(ctx context.Context, roomID uint) ([]uint, error) {
	ids := []uint{}
	err := s.db.WithContext(ctx).Model(&models.Answer{}).
		Where("room_id = ?", roomID).
		Distinct("question_id").
		Pluck("question_id", &ids).Error
	if err != nil {
		return nil, translate(err, "used questions")
	}
	return ids, nil
}

func (s *GormStore) Update(ctx context.Context, roomID uint, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var room models.Room
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error; err != nil {
			return translate(err, fmt.Sprintf("room %d", roomID))
		}
		var players []models.Player
		if err := db.Where("room_id = ?", roomID).Order("id").Find(&players).Error; err != nil {
			return translate(err, "load players")
		}

		tx := &gormTx{db: db, room: &room}
		for i := range players {
			tx.players = append(tx.players, &players[i])
		}
		if err := fn(tx); err != nil {
			return err
		}

		room.Version++
		if err := db.Save(&room).Error; err != nil {
			return translate(err, "save room")
		}
		for _, p := range tx.players {
			if err := db.Save(p).Error; err != nil {
				return translate(err, fmt.Sprintf("save player %d", p.ID))
			}
		}
		return nil
	})
}

type gormTx struct {
	db      *gorm.DB
	room    *models.Room
	players []*models.Player
}

func (tx *gormTx) Room() *models.Room {
	return tx.room
}

func (tx *gormTx) Players() []*models.Player {
	return tx.players
}

func (tx *gormTx) Player(id uint) (*models.Player, error) {
	for _, p := range tx.players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("player %d in room %d: %w", id, tx.room.ID, ErrNotFound)
}

func (tx *gormTx) AddPlayer(p *models.Player) error {
	if err := checkNewPlayer(tx.players, tx.room.ID, p); err != nil {
		return err
	}
	p.RoomID = tx.room.ID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	if err := tx.db.Create(p).Error; err != nil {
		return translate(err, "add player "+p.Name)
	}
	tx.players = append(tx.players, p)
	return nil
}

func (tx *gormTx) AppendAnswer(a *models.Answer) error {
	a.RoomID = tx.room.ID
	var count int64
	err := tx.db.Model(&models.Answer{}).
		Where("room_id = ? AND player_id = ? AND question_index = ?", a.RoomID, a.PlayerID, a.QuestionIndex).
		Count(&count).Error
	if err != nil {
		return translate(err, "check answer")
	}
	if count > 0 {
		return answerConflict(a)
	}
	return translate(tx.db.Create(a).Error, "append answer")
}

func (tx *gormTx) Answers(questionIndex int) ([]models.Answer, error) {
	return listAnswers(tx.db, tx.room.ID, questionIndex)
}
