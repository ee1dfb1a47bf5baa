package repository

import (
	"time"
)

// TenderRow mirrors one record of a tender-type file.
type TenderRow struct {
	TenderType    string     `gorm:"primaryKey;size:8"`
	Number        string     `gorm:"primaryKey;size:64"`
	Status        string     `gorm:"index;size:128"`
	PublishedDate *time.Time `gorm:"index"`
	DeadlineDate  *time.Time
	Buyer         string
	CategoryCode  string   `gorm:"size:32"`
	Amount        *float64 `gorm:"type:numeric"`
	Payload       string   `gorm:"type:text"`
	UpdatedAt     time.Time
}

func (TenderRow) TableName() string { return "tenders" }

// SyncRunRow mirrors one run-history entry.
type SyncRunRow struct {
	RunID           string    `gorm:"primaryKey;size:64"`
	Timestamp       time.Time `gorm:"index"`
	Status          string    `gorm:"size:16"`
	TenderType      string    `gorm:"size:8;index"`
	DryRun          bool
	DurationSeconds float64
	TotalChecked    int
	StatusChanges   int
	NewTendersAdded int
	RecordsUpdated  int
	ErrorCount      int
	Metrics         string `gorm:"type:text"`
	DataFile        string
}

func (SyncRunRow) TableName() string { return "sync_runs" }
