// Package models defines GORM data models for the usage collector.
// Table and column names follow the collector's historical MariaDB schema.
package models

import "time"

// Endpoint is one monitored machine, keyed by the NetBIOS name it reports.
// Rows are created by the first machine or ping report and never deleted by
// ingestion.
type Endpoint struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	NetbiosName string     `gorm:"size:255;uniqueIndex;not null" json:"netbios_name"`
	IPAddress   string     `gorm:"size:45" json:"ip_address"`
	LastSeen    *time.Time `gorm:"index" json:"last_seen"`
	OSName      *string    `gorm:"size:100" json:"os_name"`
	OSVersion   *string    `gorm:"size:100" json:"os_version"`

	// GroupID is a weak reference; deleting the group nulls it.
	GroupID *uint  `gorm:"index" json:"group_id"`
	Group   *Group `gorm:"constraint:OnDelete:SET NULL" json:"group,omitempty"`
}

func (Endpoint) TableName() string { return "computers" }

// Group is an operator-defined label for endpoints.
type Group struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	Name        string  `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Description *string `gorm:"type:text" json:"description"`
}

func (Group) TableName() string { return "computer_groups" }

// EndpointView is the DTO the dashboard renders per endpoint.
type EndpointView struct {
	ID          uint    `json:"id"`
	NetbiosName string  `json:"netbios_name"`
	IPAddress   string  `json:"ip_address"`
	LastSeen    string  `json:"last_seen"`
	OSName      *string `json:"os_name"`
	OSVersion   *string `json:"os_version"`
	GroupID     *uint   `json:"group_id"`
	GroupName   string  `json:"group_name"`
}
