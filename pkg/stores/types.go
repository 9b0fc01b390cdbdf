package stores

import (
	"context"
	"time"
)

// Record is one archived evaluation of a configuration script.
type Record struct {
	ID           string    `json:"id"`
	PassName     string    `json:"pass_name"`
	Run          int       `json:"run"`
	ScriptPath   string    `json:"script_path"`
	ScriptSHA256 string    `json:"script_sha256"`
	Libraries    []string  `json:"libraries"`
	Dump         string    `json:"dump"` // JSON parameter dump
	Allowed      bool      `json:"allowed"`
	Findings     []Finding `json:"findings,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Finding is a policy violation or warning recorded with a Record.
type Finding struct {
	ID       int64  `json:"id"`
	RecordID string `json:"record_id"`
	Policy   string `json:"policy"`
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

// ListFilter narrows ListRecords.
type ListFilter struct {
	// PassName keeps only records with this pass name when set.
	PassName string

	// ScriptSHA256 keeps only records of this script content when set.
	ScriptSHA256 string

	Limit  int
	Offset int
}

// Store defines the interface for the configuration archive.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Record operations
	SaveRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, filter ListFilter) ([]*Record, error)
	LatestByPass(ctx context.Context, passName string) (*Record, error)
	DeleteRecord(ctx context.Context, id string) error
	PruneBefore(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
