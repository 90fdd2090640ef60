package snapshot

// The snapshot tables pair a handful of indexed columns with the full source
// document. Indexed columns are derived from the document on every upsert and
// are an index, not a projection: reads always return the doc column.

// LocatedRow mirrors one active inventory machine.
type LocatedRow struct {
	MachineID    string `gorm:"column:m_id;primaryKey;size:190;not null"`
	Serial       string `gorm:"column:serial;size:190;index:idx_located_serial"`
	Model        string `gorm:"column:model;size:190;index:idx_located_model"`
	Type         string `gorm:"column:type;size:190;index:idx_located_type"`
	Salesman     string `gorm:"column:salesman;size:190;index:idx_located_salesman"`
	ContactID    string `gorm:"column:contact_id;size:190;index:idx_located_contact"`
	LastModified string `gorm:"column:last_mod;size:64"`
	DocJSON      string `gorm:"column:doc;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocatedRow) TableName() string {
	return "machines_located"
}

// ArchivedRow mirrors one archived machine envelope.
type ArchivedRow struct {
	ArchiveID    string `gorm:"column:a_id;primaryKey;size:190;not null"`
	Serial       string `gorm:"column:serial;size:190;index:idx_archived_serial"`
	Model        string `gorm:"column:model;size:190;index:idx_archived_model"`
	Type         string `gorm:"column:type;size:190;index:idx_archived_type"`
	Salesman     string `gorm:"column:salesman;size:190;index:idx_archived_salesman"`
	ContactID    string `gorm:"column:contact_id;size:190;index:idx_archived_contact"`
	LastModified string `gorm:"column:last_mod;size:64"`
	DocJSON      string `gorm:"column:doc;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ArchivedRow) TableName() string {
	return "machines_archived"
}

// SoldRow mirrors one sold machine envelope.
type SoldRow struct {
	SaleID       string `gorm:"column:s_id;primaryKey;size:190;not null"`
	Serial       string `gorm:"column:serial;size:190;index:idx_sold_serial"`
	Model        string `gorm:"column:model;size:190;index:idx_sold_model"`
	Type         string `gorm:"column:type;size:190;index:idx_sold_type"`
	Salesman     string `gorm:"column:salesman;size:190;index:idx_sold_salesman"`
	ContactID    string `gorm:"column:contact_id;size:190;index:idx_sold_contact"`
	LastModified string `gorm:"column:last_mod;size:64"`
	DocJSON      string `gorm:"column:doc;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SoldRow) TableName() string {
	return "machines_sold"
}

// ContactRow mirrors one contact document.
type ContactRow struct {
	ContactID    string `gorm:"column:c_id;primaryKey;size:190;not null"`
	Name         string `gorm:"column:name;size:190;index:idx_contacts_name"`
	Company      string `gorm:"column:company;size:190;index:idx_contacts_company"`
	LastModified string `gorm:"column:last_mod;size:64"`
	DocJSON      string `gorm:"column:doc;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContactRow) TableName() string {
	return "contacts"
}
