package outbox

// Entry is one pending remote mutation. The autoincrement sequence id is the
// replay order: entries are applied oldest-first and removed only after the
// remote confirms them. Entries are never mutated in place.
type Entry struct {
	SequenceID      int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Method          string  `gorm:"column:method;size:16;not null"`
	Path            string  `gorm:"column:path;size:512;not null"`
	PayloadJSON     *string `gorm:"column:payload;type:text"`
	CreatedAtMillis int64   `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "outbox"
}
