package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/ids"
	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/models"
	"github.com/itinera/backend/internal/util"
)

// Audit action codes.
const (
	AuditActionCreate = "CREATE"
	AuditActionUpdate = "UPDATE"
	AuditActionDelete = "DELETE"
	AuditActionLogin  = "LOGIN"
	AuditActionLogout = "LOGOUT"
	AuditActionReset  = "RESET"
	AuditActionReload = "RELOAD"
	AuditActionAssign = "ASSIGN"
	AuditActionUnlock = "UNLOCK"
	AuditActionEnable = "ENABLE"
)

const redactedValue = "[REDACTED]"

// AuditStore persists audit records.
type AuditStore interface {
	Save(ctx context.Context, rec *models.AuditLog) error
}

// GormAuditStore appends records to the audit_logs table.
type GormAuditStore struct {
	DB *gorm.DB
}

func (s GormAuditStore) Save(ctx context.Context, rec *models.AuditLog) error {
	return s.DB.WithContext(ctx).Create(rec).Error
}

// AuditDescriptor names an audited operation and its input snapshot.
type AuditDescriptor struct {
	Action      string
	EntityType  string
	EntityID    string
	Description string
	// Args is the input snapshot stored as oldValues after redaction.
	Args any
	// EntityIDFrom derives the entity id from the result when EntityID is empty.
	EntityIDFrom func(result any) string
}

// AuditFilter narrows List. Zero fields are ignored.
type AuditFilter struct {
	Username   string
	Action     string
	EntityType string
	EntityID   string
	Status     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// AuditService records audited operations. Recording is best-effort and never changes
// the outcome of the operation it wraps.
type AuditService struct {
	db      *gorm.DB
	store   AuditStore
	capture *SettingsStore
	config  *SettingsStore
	Now     func() time.Time
}

// NewAuditService returns an AuditService writing through store, or the audit_logs
// table when store is nil. capture holds audit-log settings, config the audit toggles.
func NewAuditService(db *gorm.DB, store AuditStore, capture, config *SettingsStore) *AuditService {
	if store == nil {
		store = GormAuditStore{DB: db}
	}
	return &AuditService{db: db, store: store, capture: capture, config: config, Now: time.Now}
}

// Audited runs op and records one audit entry for it. Errors from op are returned
// unchanged and panics are recorded then re-raised.
func Audited[T any](ctx context.Context, a *AuditService, d AuditDescriptor, op func(context.Context) (T, error)) (result T, err error) {
	if a == nil || !a.enabledFor(ctx, d.EntityType) {
		return op(ctx)
	}
	rec := a.begin(ctx, d)
	defer func() {
		if p := recover(); p != nil {
			a.finish(ctx, rec, d, nil, panicError{value: p})
			panic(p)
		}
	}()
	result, err = op(ctx)
	a.finish(ctx, rec, d, result, err)
	return result, err
}

// AuditedExec is Audited for operations without a result.
func AuditedExec(ctx context.Context, a *AuditService, d AuditDescriptor, op func(context.Context) error) error {
	_, err := Audited(ctx, a, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (a *AuditService) enabledFor(ctx context.Context, entityType string) bool {
	if a.config == nil {
		return true
	}
	if !a.config.GetBool(ctx, KeyAuditLogEnabled) {
		return false
	}
	if entityType != "" && !a.config.GetBoolOr(ctx, AuditEntityKey(entityType), true) {
		return false
	}
	return true
}

const maxAuditIPLength = 64

func (a *AuditService) begin(ctx context.Context, d AuditDescriptor) *models.AuditLog {
	rec := &models.AuditLog{
		Username:    models.SystemActor,
		Action:      d.Action,
		EntityType:  d.EntityType,
		Description: d.Description,
	}
	if id, ok := IdentityFromContext(ctx); ok {
		rec.Username = id.Username
		if id.UserID != 0 {
			uid := id.UserID
			rec.UserID = &uid
		}
	}
	meta := RequestMetaFromContext(ctx)
	rec.RequestID = meta.RequestID
	if rec.RequestID == "" {
		rec.RequestID = logger.RequestIDFromContext(ctx)
	}
	if a.captureBool(ctx, KeyAuditCaptureIPAddress) {
		rec.IPAddress = util.Truncate(meta.IPAddress, maxAuditIPLength)
	}
	if a.captureBool(ctx, KeyAuditCaptureUserAgent) {
		rec.UserAgent = util.Truncate(meta.UserAgent, 512)
	}
	if d.EntityID != "" {
		eid := d.EntityID
		rec.EntityID = &eid
	}
	if d.Args != nil && a.captureBool(ctx, KeyAuditCaptureOldValues) {
		rec.OldValues = a.snapshot(ctx, d.Args)
	}
	return rec
}

func (a *AuditService) finish(ctx context.Context, rec *models.AuditLog, d AuditDescriptor, result any, opErr error) {
	if opErr != nil {
		if a.config != nil && !a.config.GetBool(ctx, KeyAuditLogFailuresEnabled) {
			return
		}
		rec.Status = models.AuditStatusFailure
		rec.ErrorMessage = util.Truncate(describeError(opErr), a.maxLen(ctx))
	} else {
		rec.Status = models.AuditStatusSuccess
		if result != nil && a.captureBool(ctx, KeyAuditCaptureNewValues) {
			rec.NewValues = a.snapshot(ctx, result)
		}
		if rec.EntityID == nil && d.EntityIDFrom != nil && result != nil {
			if eid := safeEntityID(d.EntityIDFrom, result); eid != "" {
				rec.EntityID = &eid
			}
		}
	}
	a.persist(ctx, rec)
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func describeError(err error) string {
	var p panicError
	if errors.As(err, &p) {
		return p.Error()
	}
	return fmt.Sprintf("%T: %s", err, err.Error())
}

func safeEntityID(fn func(any) string, result any) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	return fn(result)
}

// persist writes rec and swallows every failure, including panics in the store.
func (a *AuditService) persist(ctx context.Context, rec *models.AuditLog) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"action":      rec.Action,
		"entity_type": rec.EntityType,
		"status":      rec.Status,
	})
	defer func() {
		if p := recover(); p != nil {
			metrics.IncAuditWriteFailure()
			log.WithField("panic", p).Error("audit store panicked")
		}
	}()
	rec.EventID = ids.New()
	rec.CreatedAt = a.Now()
	// the record outlives a cancelled request
	if err := a.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		metrics.IncAuditWriteFailure()
		log.WithError(err).Error("failed to persist audit record")
	}
}

func (a *AuditService) captureBool(ctx context.Context, key string) bool {
	if a.capture == nil {
		return true
	}
	return a.capture.GetBool(ctx, key)
}

func (a *AuditService) maxLen(ctx context.Context) int {
	if a.capture == nil {
		return 4000
	}
	return a.capture.GetInt(ctx, KeyAuditMaxValueLength)
}

func (a *AuditService) sensitivePatterns(ctx context.Context) []string {
	raw := "password,token,secret,apikey,creditcard"
	if a.capture != nil {
		raw = a.capture.GetString(ctx, KeyAuditSensitivePatterns)
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// snapshot serializes v to JSON with sensitive keys redacted. Serialization failures
// produce an empty snapshot.
func (a *AuditService) snapshot(ctx context.Context, v any) string {
	clean, err := Redact(v, a.sensitivePatterns(ctx))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Debug("audit snapshot skipped")
		return ""
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return ""
	}
	return util.Truncate(string(b), a.maxLen(ctx))
}

// Redact round-trips v through JSON and replaces the value of every object key that
// contains one of patterns, compared case-insensitively, at any depth.
func Redact(v any, patterns []string) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return redactValue(generic, patterns), nil
}

var settingValueFields = []string{"settingValue", "previousValue"}

func redactValue(v any, patterns []string) any {
	switch t := v.(type) {
	case map[string]any:
		// settings carry their secret under a generic value field
		if key, ok := t["settingKey"].(string); ok && isSensitiveKey(key, patterns) {
			for _, f := range settingValueFields {
				if _, present := t[f]; present {
					t[f] = redactedValue
				}
			}
		}
		for k, val := range t {
			if isSensitiveKey(k, patterns) {
				t[k] = redactedValue
				continue
			}
			t[k] = redactValue(val, patterns)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i], patterns)
		}
		return t
	default:
		return v
	}
}

func isSensitiveKey(key string, patterns []string) bool {
	k := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	for _, p := range patterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// List returns matching records newest first, with the total count before paging.
func (a *AuditService) List(ctx context.Context, f AuditFilter) ([]models.AuditLog, int64, error) {
	q := a.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Username != "" {
		q = q.Where("username = ?", f.Username)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToUpper(f.Status))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.AuditLog
	err := q.Order("event_id DESC").Limit(limit).Offset(f.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Get returns one record by event id.
func (a *AuditService) Get(ctx context.Context, eventID string) (*models.AuditLog, error) {
	var rec models.AuditLog
	if err := a.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuditLogNotFound
		}
		return nil, err
	}
	return &rec, nil
}
