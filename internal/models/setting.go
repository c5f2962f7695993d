package models

import "time"

// DataType tags the textual value of a setting.
type DataType string

const (
	DataTypeString  DataType = "STRING"
	DataTypeInteger DataType = "INTEGER"
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeLong    DataType = "LONG"
	DataTypeDouble  DataType = "DOUBLE"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeInteger, DataTypeBoolean, DataTypeLong, DataTypeDouble:
		return true
	}
	return false
}

// Setting scopes. Each scope is an independent key space in the settings table.
const (
	ScopeSecurity        = "security"
	ScopeAuditLogSetting = "audit_log_setting"
	ScopeAuditConfig     = "audit_config"
)

// Setting is a typed key/value entry. System defaults are seeded at startup and can be
// reset but never deleted.
type Setting struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Scope           string    `json:"scope" gorm:"uniqueIndex:idx_setting_scope_key;not null"`
	SettingKey      string    `json:"settingKey" gorm:"uniqueIndex:idx_setting_scope_key;not null"`
	SettingValue    string    `json:"settingValue" gorm:"type:text"`
	DataType        DataType  `json:"dataType" gorm:"not null;default:'STRING'"`
	Active          bool      `json:"active" gorm:"default:true"`
	IsSystemDefault bool      `json:"isSystemDefault" gorm:"default:false"`
	Category        string    `json:"category" gorm:"index"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
