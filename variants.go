package ats

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape discriminates the string-or-record company fields.
type Shape int

const (
	// ShapePlain holds free text only.
	ShapePlain Shape = iota
	// ShapeStructured holds the record fields.
	ShapeStructured
)

// Location is either a bare string or a structured address.
type Location struct {
	Shape   Shape
	Text    string
	Address string
	City    string
	ZipCode string
	Country string
}

// PlainLocation builds an unstructured Location.
func PlainLocation(s string) *Location { return &Location{Shape: ShapePlain, Text: s} }

// StructuredLocation builds a structured Location.
func StructuredLocation(address, city, zip, country string) *Location {
	return &Location{Shape: ShapeStructured, Address: address, City: city, ZipCode: zip, Country: country}
}

type locationRecord struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// MarshalJSON encodes the plain form as a JSON string and the structured form as an object.
func (l Location) MarshalJSON() ([]byte, error) {
	if l.Shape == ShapePlain {
		return json.Marshal(l.Text)
	}
	return json.Marshal(locationRecord{Address: l.Address, City: l.City, ZipCode: l.ZipCode, Country: l.Country})
}

// UnmarshalJSON accepts either a JSON string or an object.
func (l *Location) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = *PlainLocation(s)
		return nil
	}
	var r locationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	*l = *StructuredLocation(r.Address, r.City, r.ZipCode, r.Country)
	return nil
}

// Industry is either a bare string or a primary sector with tags.
type Industry struct {
	Shape   Shape
	Text    string
	Primary string
	Sectors []string
}

// PlainIndustry builds an unstructured Industry.
func PlainIndustry(s string) *Industry { return &Industry{Shape: ShapePlain, Text: s} }

// StructuredIndustry builds a structured Industry.
func StructuredIndustry(primary string, sectors ...string) *Industry {
	return &Industry{Shape: ShapeStructured, Primary: primary, Sectors: sectors}
}

type industryRecord struct {
	Primary string   `json:"primary"`
	Sectors []string `json:"sectors,omitempty"`
}

// MarshalJSON encodes the plain form as a JSON string and the structured form as an object.
func (i Industry) MarshalJSON() ([]byte, error) {
	if i.Shape == ShapePlain {
		return json.Marshal(i.Text)
	}
	return json.Marshal(industryRecord{Primary: i.Primary, Sectors: i.Sectors})
}

// UnmarshalJSON accepts either a JSON string or an object.
func (i *Industry) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = *PlainIndustry(s)
		return nil
	}
	var r industryRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("industry: %w", err)
	}
	*i = *StructuredIndustry(r.Primary, r.Sectors...)
	return nil
}

// CEO is either a bare name or a structured record.
type CEO struct {
	Shape Shape
	Text  string
	Name  string
	Since int
	Bio   string
}

// PlainCEO builds an unstructured CEO.
func PlainCEO(s string) *CEO { return &CEO{Shape: ShapePlain, Text: s} }

// StructuredCEO builds a structured CEO.
func StructuredCEO(name string, since int, bio string) *CEO {
	return &CEO{Shape: ShapeStructured, Name: name, Since: since, Bio: bio}
}

type ceoRecord struct {
	Name  string `json:"name"`
	Since int    `json:"since,omitempty"`
	Bio   string `json:"bio,omitempty"`
}

// MarshalJSON encodes the plain form as a JSON string and the structured form as an object.
func (c CEO) MarshalJSON() ([]byte, error) {
	if c.Shape == ShapePlain {
		return json.Marshal(c.Text)
	}
	return json.Marshal(ceoRecord{Name: c.Name, Since: c.Since, Bio: c.Bio})
}

// UnmarshalJSON accepts either a JSON string or an object.
func (c *CEO) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = *PlainCEO(s)
		return nil
	}
	var r ceoRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("ceo: %w", err)
	}
	*c = *StructuredCEO(r.Name, r.Since, r.Bio)
	return nil
}

func isJSONString(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '"'
}
