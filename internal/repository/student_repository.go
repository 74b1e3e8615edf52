package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// StudentRepository provides recipient lookups for targeting.
type StudentRepository struct {
	db Execer
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db Execer) *StudentRepository {
	return &StudentRepository{db: db}
}

const candidateColumns = `s.id AS student_id, s.status, s.year_of_study, s.department, s.gender,
s.room_id, r.number AS room_number, r.floor, r.block, r.type AS room_type, s.notification_prefs`

// ListCandidates returns every active student of a hostel with their room
// attributes, the projection targeting rules evaluate against.
func (r *StudentRepository) ListCandidates(ctx context.Context, hostelID string) ([]models.TargetCandidate, error) {
	query := `SELECT ` + candidateColumns + `
FROM students s LEFT JOIN rooms r ON r.id = s.room_id
WHERE s.hostel_id = $1 AND s.status <> 'CHECKED_OUT'
ORDER BY s.id`
	var candidates []models.TargetCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, hostelID); err != nil {
		return nil, fmt.Errorf("list target candidates: %w", err)
	}
	return candidates, nil
}

// ListByRooms returns candidates assigned to any of the given rooms.
func (r *StudentRepository) ListByRooms(ctx context.Context, hostelID string, roomIDs []string) ([]models.TargetCandidate, error) {
	query := `SELECT ` + candidateColumns + `
FROM students s JOIN rooms r ON r.id = s.room_id
WHERE s.hostel_id = $1 AND s.status <> 'CHECKED_OUT' AND s.room_id = ANY($2)
ORDER BY s.id`
	var candidates []models.TargetCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, hostelID, pq.Array(roomIDs)); err != nil {
		return nil, fmt.Errorf("list candidates by rooms: %w", err)
	}
	return candidates, nil
}

// ListByFloors returns candidates housed on any of the given floors.
func (r *StudentRepository) ListByFloors(ctx context.Context, hostelID string, floors []int) ([]models.TargetCandidate, error) {
	values := make([]int64, 0, len(floors))
	for _, f := range floors {
		values = append(values, int64(f))
	}
	query := `SELECT ` + candidateColumns + `
FROM students s JOIN rooms r ON r.id = s.room_id
WHERE s.hostel_id = $1 AND s.status <> 'CHECKED_OUT' AND r.floor = ANY($2)
ORDER BY s.id`
	var candidates []models.TargetCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, hostelID, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list candidates by floors: %w", err)
	}
	return candidates, nil
}

// ListByIDs returns the subset of the given students that belong to the hostel.
func (r *StudentRepository) ListByIDs(ctx context.Context, hostelID string, studentIDs []string) ([]models.TargetCandidate, error) {
	query := `SELECT ` + candidateColumns + `
FROM students s LEFT JOIN rooms r ON r.id = s.room_id
WHERE s.hostel_id = $1 AND s.id = ANY($2)
ORDER BY s.id`
	var candidates []models.TargetCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, hostelID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list candidates by ids: %w", err)
	}
	return candidates, nil
}

// GetByID returns one student row.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, hostel_id, full_name, email, status, year_of_study, department, gender,
room_id, notification_prefs, created_at, updated_at
FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}
