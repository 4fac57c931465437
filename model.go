package main

// Column represents a single column from MySQL INFORMATION_SCHEMA.
type Column struct {
	Name          string
	DataType      string // full raw type, e.g. "tinyint(1)", "varchar(191)", "enum('a','b')"
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Default       *string
}

// ForeignKey represents a single-column MySQL foreign key constraint.
// Update/delete rules default to NO ACTION when the catalog omits them.
type ForeignKey struct {
	Column     string
	RefTable   string
	RefColumn  string
	UpdateRule string
	DeleteRule string
}

// Table holds the introspected definition of a MySQL table.
// Column order matches ORDINAL_POSITION and is preserved through DDL generation.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Schema holds all introspected tables for a MySQL database.
type Schema struct {
	Tables []Table
}

// TargetType is the SQLite storage class a MySQL column type maps to.
type TargetType string

const (
	TypeInteger TargetType = "INTEGER"
	TypeText    TargetType = "TEXT"
	TypeReal    TargetType = "REAL"
	TypeBlob    TargetType = "BLOB"
)

// StatementKind classifies a generated or re-parsed statement.
type StatementKind int

const (
	StmtOther StatementKind = iota
	StmtPragma
	StmtComment
	StmtSchema
	StmtData
)

// Statement is one fully-formed unit of SQLite-dialect SQL text.
// Statements are immutable once generated; their order is significant
// (schemas precede inserts, inserts precede re-enabling foreign keys).
type Statement struct {
	SQL   string
	Kind  StatementKind
	Table string // set for schema and data statements
}

// TableCount holds per-table row counts across the three systems.
type TableCount struct {
	Table       string
	Source      int64
	Stage       int64
	Destination int64
	HasSource   bool
	HasStage    bool
	Match       bool
	Notes       []string // count-fetch errors, reported but never fatal
}

// ReconcileReport aggregates the per-table reconciliation results of one pass.
type ReconcileReport struct {
	Tables     []TableCount
	Matched    int
	Mismatched int
}
