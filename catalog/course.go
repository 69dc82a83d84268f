package catalog

import (
	"context"
	"fmt"
	"time"
)

// Course statuses and sale statuses. Only enabled, on-sale courses are
// eligible for recommendation or purchase.
const (
	CourseStatusEnabled = 1
	SaleStatusOnSale    = 1
)

// Course is a medical education course.
type Course struct {
	ID                int64     `json:"id"`
	CourseCode        string    `json:"course_code"`
	CourseName        string    `json:"course_name"`
	MedicalDepartment string    `json:"medical_department"`
	ApplicableTitle   string    `json:"applicable_title"`
	DifficultyLevel   int       `json:"difficulty_level"`
	ClassHours        float64   `json:"class_hours"`
	Credit            float64   `json:"credit"`
	Price             float64   `json:"price"`
	SaleStatus        int       `json:"sale_status"`
	ValidPeriodDays   int       `json:"valid_period_days"`
	Status            int       `json:"status"`
	CreatedTime       time.Time `json:"created_time"`
}

// Active reports whether the course may be surfaced to users.
func (c *Course) Active() bool {
	return c.Status == CourseStatusEnabled && c.SaleStatus == SaleStatusOnSale
}

const courseColumns = `id, course_code, course_name, medical_department,
	COALESCE(applicable_title, ''), difficulty_level, class_hours,
	COALESCE(credit, 0), price, sale_status, valid_period_days, status,
	created_time`

func scanCourse(row interface{ Scan(...interface{}) error }) (Course, error) {
	var c Course
	var err = row.Scan(&c.ID, &c.CourseCode, &c.CourseName,
		&c.MedicalDepartment, &c.ApplicableTitle, &c.DifficultyLevel,
		&c.ClassHours, &c.Credit, &c.Price, &c.SaleStatus,
		&c.ValidPeriodDays, &c.Status, &c.CreatedTime)
	return c, err
}

// CourseByID fetches one course, or ErrNotFound.
func (s *Store) CourseByID(ctx context.Context, id int64) (*Course, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c, err = scanCourse(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+courseColumns+` FROM medical_course WHERE id = ?`), id))
	if isNoRows(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying course %d: %w", id, err)
	}
	return &c, nil
}

// CoursesByIDs fetches the named courses, keyed by id. Missing ids are
// simply absent from the result.
func (s *Store) CoursesByIDs(ctx context.Context, ids []int64) (map[int64]Course, error) {
	if len(ids) == 0 {
		return map[int64]Course{}, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var args = make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var rows, err = s.db.QueryContext(ctx, s.rebind(
		`SELECT `+courseColumns+` FROM medical_course WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %d courses: %w", len(ids), err)
	}
	defer rows.Close()

	var out = make(map[int64]Course, len(ids))
	for rows.Next() {
		var c, err = scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning course: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// ActiveCoursesNewest returns up to limit enabled, on-sale courses in
// descending creation order, excluding the given ids.
func (s *Store) ActiveCoursesNewest(ctx context.Context, limit int, excludeIDs []int64) ([]Course, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var query = `SELECT ` + courseColumns + ` FROM medical_course
		WHERE status = ? AND sale_status = ?`
	var args = []interface{}{CourseStatusEnabled, SaleStatusOnSale}

	if len(excludeIDs) != 0 {
		query += ` AND id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_time DESC, id ASC LIMIT ?`
	args = append(args, limit)

	var rows, err = s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying newest active courses: %w", err)
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c, err = scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
