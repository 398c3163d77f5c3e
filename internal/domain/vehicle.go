package domain

import "fmt"

// Vehicle is the subset of catalog attributes used to build a prompt. Raw keeps
// the full record as returned by the catalog.
type Vehicle struct {
	ID           string
	Make         string
	Model        string
	Version      string
	Year         int
	Color        string
	Mileage      int
	Price        float64
	Currency     string
	FuelType     string
	Transmission string
	BodyType     string
	Raw          map[string]any
}

type Image struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ItemInfo is the vehicle summary snapshotted onto tasks and history entries.
type ItemInfo struct {
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	Year    int    `json:"year,omitempty"`
}

func (v Vehicle) Info() ItemInfo {
	return ItemInfo{Make: v.Make, Model: v.Model, Version: v.Version, Year: v.Year}
}

func (i ItemInfo) String() string {
	s := i.Make
	if i.Model != "" {
		s += " " + i.Model
	}
	if i.Year > 0 {
		s = fmt.Sprintf("%s %d", s, i.Year)
	}
	return s
}
