package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/repository"
)

type activityRepository struct {
	db DBTX
}

func NewActivityRepository(db DBTX) repository.ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Create(ctx context.Context, a *domain.Activity) error {
	logger.EnterMethod("activityRepository.Create", "projectID", a.ProjectID, "subject", a.Subject)

	attrs := a.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		logger.ExitMethodWithError("activityRepository.Create", err, "reason", "failed to marshal attributes")
		return err
	}

	query := `INSERT INTO activities (project_id, subject, summary, note, assignee, done, attributes, created_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	logger.DatabaseCall("INSERT", "activities", "projectID", a.ProjectID)

	a.CreatedOn = time.Now()
	err = r.db.QueryRowContext(ctx, query, a.ProjectID, a.Subject, a.Summary, a.Note, a.Assignee, a.Done, attrsJSON, a.CreatedOn).Scan(&a.ID)
	logger.DatabaseResult("INSERT", 1, err, "activityID", a.ID)

	if err != nil {
		logger.ExitMethodWithError("activityRepository.Create", err, "projectID", a.ProjectID)
	} else {
		logger.ExitMethod("activityRepository.Create", "activityID", a.ID)
	}
	return err
}

func (r *activityRepository) List(ctx context.Context, projectID *int32, limit, offset int32) ([]domain.Activity, int32, error) {
	where := ""
	var args []any
	if projectID != nil {
		where = " WHERE project_id = $1"
		args = append(args, *projectID)
	}

	var count int32
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM activities`+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, project_id, subject, summary, note, assignee, done, attributes, created_on FROM activities` + where +
		fmt.Sprintf(" ORDER BY created_on DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var attrs []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Subject, &a.Summary, &a.Note, &a.Assignee, &a.Done, &attrs, &a.CreatedOn); err != nil {
			return nil, 0, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
				return nil, 0, err
			}
		}
		activities = append(activities, a)
	}
	return activities, count, rows.Err()
}
