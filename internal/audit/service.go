package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"labdesk-backend/internal/models"

	"gorm.io/gorm"
)

// Actor identifies who triggered a change.
type Actor struct {
	OperatorID *uint
	Name       string
}

// SystemActor is used for changes made by background jobs.
var SystemActor = Actor{Name: "system"}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return SystemActor
}

type LogOptions struct {
	Actor       Actor
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	After       any
}

// WriteLog appends an audit row using tx, so the entry commits or rolls
// back together with the change it describes.
func WriteLog(tx *gorm.DB, opts LogOptions) error {
	afterStr := "null"
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	entry := models.AuditLog{
		OperatorID:   opts.Actor.OperatorID,
		OperatorName: opts.Actor.Name,
		EntityType:   opts.EntityType,
		EntityID:     opts.EntityID,
		Action:       opts.Action,
		Description:  opts.Description,
		AfterData:    afterStr,
	}

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

type ListFilter struct {
	EntityType string
	EntityID   uint
	OperatorID uint
	Limit      int
}

func List(ctx context.Context, db *gorm.DB, f ListFilter) ([]models.AuditLog, error) {
	q := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID > 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.OperatorID > 0 {
		q = q.Where("operator_id = ?", f.OperatorID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.AuditLog
	if err := q.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
