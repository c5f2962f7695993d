package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/metrics"
	"github.com/itinera/backend/internal/models"
)

// Definition is a compiled setting default.
type Definition struct {
	Key         string          `json:"settingKey"`
	Default     string          `json:"settingValue"`
	DataType    models.DataType `json:"dataType"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// SettingsOptions tune the read cache. A non-positive CacheTTL disables caching.
type SettingsOptions struct {
	CacheTTL  time.Duration
	CacheSize int
}

type cachedSetting struct {
	row   models.Setting
	found bool
}

// SettingsStore is a typed key/value store for one scope of the settings table.
// Getters never fail: a missing, inactive or unparseable row yields the compiled default.
type SettingsStore struct {
	db    *gorm.DB
	scope string
	defs  map[string]Definition
	order []string
	cache *expirable.LRU[string, cachedSetting]
}

// NewSettingsStore returns a store over scope seeded with the given definitions.
func NewSettingsStore(db *gorm.DB, scope string, defs []Definition, opts SettingsOptions) *SettingsStore {
	s := &SettingsStore{db: db, scope: scope, defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if _, dup := s.defs[d.Key]; !dup {
			s.order = append(s.order, d.Key)
		}
		s.defs[d.Key] = d
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 512
		}
		s.cache = expirable.NewLRU[string, cachedSetting](size, nil, opts.CacheTTL)
	}
	return s
}

// Scope returns the key space of this store.
func (s *SettingsStore) Scope() string { return s.scope }

// Definition returns the compiled default for key.
func (s *SettingsStore) Definition(key string) (Definition, bool) {
	d, ok := s.defs[key]
	return d, ok
}

// Initialize inserts every compiled definition that is not yet present. Existing rows,
// including operator edits, are left untouched.
func (s *SettingsStore) Initialize(ctx context.Context) error {
	created := 0
	for _, key := range s.order {
		d := s.defs[key]
		var existing models.Setting
		err := s.db.WithContext(ctx).Where("scope = ? AND setting_key = ?", s.scope, d.Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("initialize %s setting %s: %w", s.scope, d.Key, err)
		}
		row := models.Setting{
			Scope:           s.scope,
			SettingKey:      d.Key,
			SettingValue:    d.Default,
			DataType:        d.DataType,
			Active:          true,
			IsSystemDefault: true,
			Category:        d.Category,
			Description:     d.Description,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				// another instance seeded it first
				continue
			}
			return fmt.Errorf("initialize %s setting %s: %w", s.scope, d.Key, err)
		}
		created++
	}
	s.Reload(ctx)
	logger.FromContext(ctx).WithFields(logrus.Fields{"scope": s.scope, "created": created}).Info("settings initialized")
	return nil
}

// InitializeSettings runs the initializers in order. Callers pass the security store first.
func InitializeSettings(ctx context.Context, stores ...*SettingsStore) error {
	for _, st := range stores {
		if err := st.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettingsStore) lookup(ctx context.Context, key string) (models.Setting, bool) {
	if s.cache != nil {
		if c, ok := s.cache.Get(key); ok {
			return c.row, c.found
		}
	}
	var row models.Setting
	err := s.db.WithContext(ctx).Where("scope = ? AND setting_key = ?", s.scope, key).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			// not cached: transient errors should not pin the default
			logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("settings lookup failed, using default")
			metrics.IncSettingsFallback(s.scope, "db_error")
			return models.Setting{}, false
		}
		s.remember(key, cachedSetting{})
		return models.Setting{}, false
	}
	s.remember(key, cachedSetting{row: row, found: true})
	return row, true
}

func (s *SettingsStore) remember(key string, c cachedSetting) {
	if s.cache != nil {
		s.cache.Add(key, c)
	}
}

func (s *SettingsStore) forget(key string) {
	if s.cache != nil {
		s.cache.Remove(key)
	}
}

func resolve[T any](ctx context.Context, s *SettingsStore, key string, parse func(string) (T, error)) T {
	row, found := s.lookup(ctx, key)
	switch {
	case !found:
		metrics.IncSettingsFallback(s.scope, "missing")
	case !row.Active:
		metrics.IncSettingsFallback(s.scope, "inactive")
	default:
		v, err := parse(row.SettingValue)
		if err == nil {
			return v
		}
		logger.FromContext(ctx).WithFields(logrus.Fields{
			"scope": s.scope,
			"key":   key,
			"type":  row.DataType,
		}).Warn("unparseable setting value, using default")
		metrics.IncSettingsFallback(s.scope, "unparseable")
	}

	var zero T
	d, ok := s.defs[key]
	if !ok {
		return zero
	}
	v, err := parse(d.Default)
	if err != nil {
		return zero
	}
	return v
}

// GetString returns the value of key as a string.
func (s *SettingsStore) GetString(ctx context.Context, key string) string {
	return resolve(ctx, s, key, func(v string) (string, error) { return v, nil })
}

// GetInt returns the value of key as a 32-bit integer.
func (s *SettingsStore) GetInt(ctx context.Context, key string) int {
	return resolve(ctx, s, key, func(v string) (int, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		return int(n), err
	})
}

// GetLong returns the value of key as a 64-bit integer.
func (s *SettingsStore) GetLong(ctx context.Context, key string) int64 {
	return resolve(ctx, s, key, func(v string) (int64, error) {
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	})
}

// GetDouble returns the value of key as a float.
func (s *SettingsStore) GetDouble(ctx context.Context, key string) float64 {
	return resolve(ctx, s, key, func(v string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	})
}

// GetBool returns the value of key as a boolean.
func (s *SettingsStore) GetBool(ctx context.Context, key string) bool {
	return resolve(ctx, s, key, parseBool)
}

// GetBoolOr is GetBool for keys that may have no compiled definition.
func (s *SettingsStore) GetBoolOr(ctx context.Context, key string, fallback bool) bool {
	if _, ok := s.defs[key]; ok {
		return s.GetBool(ctx, key)
	}
	row, found := s.lookup(ctx, key)
	if !found || !row.Active {
		return fallback
	}
	v, err := parseBool(row.SettingValue)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func validateValue(dt models.DataType, value string) error {
	var err error
	switch dt {
	case models.DataTypeInteger:
		_, err = strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	case models.DataTypeLong:
		_, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case models.DataTypeDouble:
		_, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	case models.DataTypeBoolean:
		_, err = parseBool(value)
	case models.DataTypeString:
	default:
		return fmt.Errorf("%w: unknown data type %q", ErrValidation, dt)
	}
	if err != nil {
		return fmt.Errorf("%w: %q is not a valid %s", ErrSettingTypeMismatch, value, dt)
	}
	return nil
}

// List returns the rows of the scope, optionally limited to one category.
func (s *SettingsStore) List(ctx context.Context, category string) ([]models.Setting, error) {
	q := s.db.WithContext(ctx).Where("scope = ?", s.scope)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var rows []models.Setting
	if err := q.Order("category, setting_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Categories returns the distinct categories present in the scope.
func (s *SettingsStore) Categories(ctx context.Context) ([]string, error) {
	var cats []string
	err := s.db.WithContext(ctx).Model(&models.Setting{}).
		Where("scope = ?", s.scope).
		Distinct("category").
		Pluck("category", &cats).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(cats)
	return cats, nil
}

// Get returns the row for key.
func (s *SettingsStore) Get(ctx context.Context, key string) (*models.Setting, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("scope = ? AND setting_key = ?", s.scope, key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Update replaces the value of key after checking it parses as the declared type.
func (s *SettingsStore) Update(ctx context.Context, key, value string) (*models.Setting, error) {
	row, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dt := row.DataType
	if !dt.Valid() {
		if d, ok := s.defs[key]; ok {
			dt = d.DataType
		}
	}
	if err := validateValue(dt, value); err != nil {
		return nil, err
	}
	row.SettingValue = value
	if err := s.db.WithContext(ctx).Model(row).Update("setting_value", value).Error; err != nil {
		return nil, err
	}
	s.forget(key)
	return row, nil
}

// Create adds an operator-defined setting. It is never a system default.
func (s *SettingsStore) Create(ctx context.Context, d Definition) (*models.Setting, error) {
	d.Key = strings.TrimSpace(d.Key)
	if d.Key == "" {
		return nil, fmt.Errorf("%w: settingKey is required", ErrValidation)
	}
	if d.DataType == "" {
		d.DataType = models.DataTypeString
	}
	if !d.DataType.Valid() {
		return nil, fmt.Errorf("%w: unknown data type %q", ErrValidation, d.DataType)
	}
	if err := validateValue(d.DataType, d.Default); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, d.Key); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrSettingNotFound) {
		return nil, err
	}

	row := &models.Setting{
		Scope:        s.scope,
		SettingKey:   d.Key,
		SettingValue: d.Default,
		DataType:     d.DataType,
		Active:       true,
		Category:     d.Category,
		Description:  d.Description,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	s.forget(d.Key)
	return row, nil
}

// Reset restores the compiled default of key and reactivates it, recreating the row if needed.
func (s *SettingsStore) Reset(ctx context.Context, key string) (*models.Setting, error) {
	d, ok := s.defs[key]
	if !ok {
		if _, err := s.Get(ctx, key); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s has no compiled default", ErrValidation, key)
	}
	row := models.Setting{Scope: s.scope, SettingKey: key}
	err := s.db.WithContext(ctx).
		Where(models.Setting{Scope: s.scope, SettingKey: key}).
		Assign(map[string]any{
			"setting_value":     d.Default,
			"data_type":         d.DataType,
			"active":            true,
			"is_system_default": true,
			"category":          d.Category,
			"description":       d.Description,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, err
	}
	s.forget(key)
	return &row, nil
}

// ResetCategory resets every compiled default in category, or all of them when category is empty.
func (s *SettingsStore) ResetCategory(ctx context.Context, category string) ([]models.Setting, error) {
	var out []models.Setting
	for _, key := range s.order {
		if category != "" && s.defs[key].Category != category {
			continue
		}
		row, err := s.Reset(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	if category != "" && len(out) == 0 {
		return nil, ErrSettingNotFound
	}
	return out, nil
}

// Deactivate makes getters ignore key. System defaults cannot be deactivated.
func (s *SettingsStore) Deactivate(ctx context.Context, key string) (*models.Setting, error) {
	return s.setActive(ctx, key, false)
}

// Reactivate undoes Deactivate.
func (s *SettingsStore) Reactivate(ctx context.Context, key string) (*models.Setting, error) {
	return s.setActive(ctx, key, true)
}

func (s *SettingsStore) setActive(ctx context.Context, key string, active bool) (*models.Setting, error) {
	row, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !active && row.IsSystemDefault {
		return nil, ErrSystemDefaultProtected
	}
	if err := s.db.WithContext(ctx).Model(row).Update("active", active).Error; err != nil {
		return nil, err
	}
	row.Active = active
	s.forget(key)
	return row, nil
}

// Delete removes an operator-defined setting.
func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	row, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if row.IsSystemDefault {
		return ErrSystemDefaultProtected
	}
	if err := s.db.WithContext(ctx).Delete(row).Error; err != nil {
		return err
	}
	s.forget(key)
	return nil
}

// Reload drops cached reads so the next getter call goes to the database.
func (s *SettingsStore) Reload(ctx context.Context) {
	if s.cache != nil {
		s.cache.Purge()
	}
	logger.FromContext(ctx).WithField("scope", s.scope).Debug("settings cache purged")
}
