// Package zipbss holds the types shared by every layer of the blocked
// sequence set engine: the record shape, field descriptors used by the file
// header, and the comparison used to keep blocks and indexes in key order.
package zipbss

// Record is one zip code entry: the six CSV fields the original data set
// carries, keyed by Zip.
type Record struct {
	Zip       string `validate:"required,len=5,number"`
	City      string `validate:"required"`
	State     string `validate:"required,len=2,alpha"`
	County    string
	Latitude  float64
	Longitude float64
}

// Less orders two records by key, matching the on-disk sort order.
func (r Record) Less(other Record) bool {
	return r.Zip < other.Zip
}

// Equals compares records by key only, mirroring ZipCodeRecord::operator==.
func (r Record) Equals(other Record) bool {
	return r.Zip == other.Zip
}

// FieldDescriptor names one field of the record shape, as recorded in the
// file header's FIELD_<i>_NAME / FIELD_<i>_TYPE pairs.
type FieldDescriptor struct {
	Name string
	Type string
}

// DefaultFields is the field layout for ZipCodeRecord-shaped stores: the
// fixed six-field schema this engine is built around.
var DefaultFields = []FieldDescriptor{
	{Name: "ZipCode", Type: "string"},
	{Name: "City", Type: "string"},
	{Name: "State", Type: "string"},
	{Name: "County", Type: "string"},
	{Name: "Latitude", Type: "double"},
	{Name: "Longitude", Type: "double"},
}

// PrimaryKeyField is the ordinal of the key field within DefaultFields.
const PrimaryKeyField = 0

// InvalidRBN marks an absent block link (an empty list, or "no next block").
const InvalidRBN int32 = -1
