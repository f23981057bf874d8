package models

// Counter is a named durable sequence. Values are only ever produced through
// a single atomic increment-and-return statement.
type Counter struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value int64  `gorm:"column:value;not null;default:0"`
}
