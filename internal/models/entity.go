package models

// EntityCategory discriminates alliances from corporations in an EntityCount.
type EntityCategory string

const (
	CategoryAlliance    EntityCategory = "alliance"
	CategoryCorporation EntityCategory = "corporation"
)

// EntityCount is the number of attackers belonging to one alliance or corporation.
type EntityCount struct {
	ID       int64          `json:"id"`
	Category EntityCategory `json:"category"`
	Count    int            `json:"count"`
}

func (e EntityCount) IsAlliance() bool {
	return e.Category == CategoryAlliance
}

func (e EntityCount) IsCorporation() bool {
	return e.Category == CategoryCorporation
}
