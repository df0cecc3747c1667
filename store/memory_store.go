package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quizroom/models"
)

type answerKey struct {
	roomID        uint
	playerID      uint
	questionIndex int
}

// MemoryStore keeps every table in process memory. Rooms, players and answers
// live in separate ID-keyed tables and refer to each other only by ID.
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[uint]models.Room
	codes       map[string]uint
	players     map[uint]models.Player
	roomPlayers map[uint][]uint
	answers     map[uint]models.Answer
	roomAnswers map[uint][]uint
	answerKeys  map[answerKey]uint
	nextID      uint

	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[uint]models.Room),
		codes:       make(map[string]uint),
		players:     make(map[uint]models.Player),
		roomPlayers: make(map[uint][]uint),
		answers:     make(map[uint]models.Answer),
		roomAnswers: make(map[uint][]uint),
		answerKeys:  make(map[answerKey]uint),
		locks:       make(map[uint]*sync.Mutex),
	}
}

func (s *MemoryStore) allocID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) roomLock(roomID uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	return lock
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room.Code = NormalizeCode(room.Code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[room.Code]; taken {
		return fmt.Errorf("room code %s: %w", room.Code, ErrConflict)
	}
	s.nextID++
	room.ID = s.nextID
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	if room.Phase == "" {
		room.Phase = models.PhaseWaiting
	}
	s.rooms[room.ID] = cloneRoom(room)
	s.codes[room.Code] = room.ID
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	for _, id := range s.roomAnswers[roomID] {
		a := s.answers[id]
		delete(s.answerKeys, answerKey{a.RoomID, a.PlayerID, a.QuestionIndex})
		delete(s.answers, id)
	}
	for _, id := range s.roomPlayers[roomID] {
		delete(s.players, id)
	}
	delete(s.roomAnswers, roomID)
	delete(s.roomPlayers, roomID)
	delete(s.codes, room.Code)
	delete(s.rooms, roomID)
	s.mu.Unlock()

	s.locksMu.Lock()
	delete(s.locks, roomID)
	s.locksMu.Unlock()
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID uint) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	out := cloneRoom(&room)
	return &out, nil
}

func (s *MemoryStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	id, ok := s.codes[NormalizeCode(code)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room code %s: %w", NormalizeCode(code), ErrNotFound)
	}
	return s.GetRoom(ctx, id)
}

func (s *MemoryStore) GetPlayer(ctx context.Context, playerID uint) (*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, fmt.Errorf("player %d: %w", playerID, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) FindPlayerByConnection(ctx context.Context, connID string) (*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if connID == "" {
		return nil, fmt.Errorf("empty connection: %w", ErrNotFound)
	}
	bound, err := s.PlayersByConnection(ctx, connID)
	if err != nil {
		return nil, err
	}
	if len(bound) == 0 {
		return nil, fmt.Errorf("connection %s: %w", connID, ErrNotFound)
	}
	return &bound[0], nil
}

func (s *MemoryStore) PlayersByConnection(ctx context.Context, connID string) ([]models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if connID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Player
	for _, p := range s.players {
		if p.ConnectionID == connID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListPlayers(ctx context.Context, roomID uint) ([]models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	ids := s.roomPlayers[roomID]
	out := make([]models.Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.players[id])
	}
	return out, nil
}

func (s *MemoryStore) ListAnswers(ctx context.Context, roomID uint, questionIndex int) ([]models.Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answersLocked(roomID, questionIndex), nil
}

func (s *MemoryStore) answersLocked(roomID uint, questionIndex int) []models.Answer {
	out := []models.Answer{}
	for _, id := range s.roomAnswers[roomID] {
		a := s.answers[id]
		if questionIndex < 0 || a.QuestionIndex == questionIndex {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemoryStore) UsedQuestionIDs(ctx context.Context, roomID uint) ([]uint, error) {
	answers, err := s.ListAnswers(ctx, roomID, -1)
	if err != nil {
		return nil, err
	}
	return distinctQuestionIDs(answers), nil
}

func (s *MemoryStore) Update(ctx context.Context, roomID uint, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.begin(roomID)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// begin takes fresh copies of the room and its players. Callers hold the
// room lock, so nothing else can change them until commit.
func (s *MemoryStore) begin(roomID uint) (*memTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	r := cloneRoom(&room)
	tx := &memTx{store: s, room: &r}
	for _, id := range s.roomPlayers[roomID] {
		p := s.players[id]
		tx.players = append(tx.players, &p)
	}
	return tx, nil
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[tx.room.ID]; !ok {
		return fmt.Errorf("room %d: %w", tx.room.ID, ErrNotFound)
	}
	now := time.Now()
	tx.room.Version++
	tx.room.UpdatedAt = now
	s.rooms[tx.room.ID] = cloneRoom(tx.room)

	for _, p := range tx.players {
		p.UpdatedAt = now
		if _, existed := s.players[p.ID]; !existed {
			s.roomPlayers[p.RoomID] = append(s.roomPlayers[p.RoomID], p.ID)
		}
		s.players[p.ID] = *p
	}
	for _, a := range tx.newAnswers {
		key := answerKey{a.RoomID, a.PlayerID, a.QuestionIndex}
		s.answers[a.ID] = *a
		s.answerKeys[key] = a.ID
		s.roomAnswers[a.RoomID] = append(s.roomAnswers[a.RoomID], a.ID)
	}
	return nil
}

type memTx struct {
	store      *MemoryStore
	room       *models.Room
	players    []*models.Player
	newAnswers []*models.Answer
}

func (tx *memTx) Room() *models.Room {
	return tx.room
}

func (tx *memTx) Players() []*models.Player {
	return tx.players
}

func (tx *memTx) Player(id uint) (*models.Player, error) {
	for _, p := range tx.players {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("player %d in room %d: %w", id, tx.room.ID, ErrNotFound)
}

func (tx *memTx) AddPlayer(p *models.Player) error {
	if err := checkNewPlayer(tx.players, tx.room.ID, p); err != nil {
		return err
	}
	p.ID = tx.store.allocID()
	p.RoomID = tx.room.ID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	tx.players = append(tx.players, p)
	return nil
}

func (tx *memTx) AppendAnswer(a *models.Answer) error {
	a.RoomID = tx.room.ID
	key := answerKey{a.RoomID, a.PlayerID, a.QuestionIndex}
	for _, pending := range tx.newAnswers {
		if pending.PlayerID == a.PlayerID && pending.QuestionIndex == a.QuestionIndex {
			return answerConflict(a)
		}
	}
	tx.store.mu.RLock()
	_, exists := tx.store.answerKeys[key]
	tx.store.mu.RUnlock()
	if exists {
		return answerConflict(a)
	}
	a.ID = tx.store.allocID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	tx.newAnswers = append(tx.newAnswers, a)
	return nil
}

func (tx *memTx) Answers(questionIndex int) ([]models.Answer, error) {
	tx.store.mu.RLock()
	out := tx.store.answersLocked(tx.room.ID, questionIndex)
	tx.store.mu.RUnlock()
	for _, a := range tx.newAnswers {
		if questionIndex < 0 || a.QuestionIndex == questionIndex {
			out = append(out, *a)
		}
	}
	return out, nil
}

func checkNewPlayer(existing []*models.Player, roomID uint, p *models.Player) error {
	p.NameKey = models.NameKey(p.Name)
	for _, other := range existing {
		if other.NameKey == p.NameKey {
			return fmt.Errorf("player name %q in room %d: %w", p.Name, roomID, ErrConflict)
		}
		if p.IsHost && other.IsHost {
			return fmt.Errorf("second host in room %d: %w", roomID, ErrConflict)
		}
	}
	return nil
}

func answerConflict(a *models.Answer) error {
	return fmt.Errorf("answer for player %d question %d in room %d: %w",
		a.PlayerID, a.QuestionIndex, a.RoomID, ErrConflict)
}

func cloneRoom(r *models.Room) models.Room {
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.QuestionStartedAt = cloneTime(r.QuestionStartedAt)
	out.EndedAt = cloneTime(r.EndedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func distinctQuestionIDs(answers []models.Answer) []uint {
	seen := make(map[uint]bool)
	ids := []uint{}
	for _, a := range answers {
		if a.QuestionID == 0 || seen[a.QuestionID] {
			continue
		}
		seen[a.QuestionID] = true
		ids = append(ids, a.QuestionID)
	}
	return ids
}
