package ramses

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ArchivedMessage is one routed message persisted to the optional
// archival sink. The out-of-scope relational-archive CLI named in §1 is
// not built, but a caller who wants packet/message archival gets this
// ready driver rather than a hand-rolled one, per SPEC_FULL.md's DOMAIN
// STACK.
type ArchivedMessage struct {
	ID        uint `gorm:"primarykey"`
	Timestamp time.Time `gorm:"index"`
	Verb      string
	Src       string `gorm:"index"`
	Dst       string
	Code      string `gorm:"index"`
	RawLine   string
	Valid     bool
}

// Archive wraps a gorm/sqlite connection for message persistence.
type Archive struct {
	db *gorm.DB
}

// OpenArchive opens (creating if necessary) a sqlite-backed archive at
// dsn and migrates its schema.
func OpenArchive(dsn string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("ramses: open archive db: %w", err)
	}
	if err := db.AutoMigrate(&ArchivedMessage{}); err != nil {
		return nil, fmt.Errorf("ramses: migrate archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Record persists one routed message.
func (a *Archive) Record(m *Message) error {
	row := ArchivedMessage{
		Timestamp: m.Packet.RxAt,
		Verb:      string(m.Packet.Verb),
		Src:       m.Packet.Src().String(),
		Code:      m.Packet.Code,
		RawLine:   m.Packet.Raw,
		Valid:     m.Valid,
	}
	if dst := m.Packet.Dst(); dst.IsReal() {
		row.Dst = dst.String()
	}
	return a.db.Create(&row).Error
}

// RecentByCode returns the most recent n archived messages for an
// opcode, newest first.
func (a *Archive) RecentByCode(code string, n int) ([]ArchivedMessage, error) {
	var rows []ArchivedMessage
	err := a.db.Where("code = ?", code).Order("timestamp desc").Limit(n).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
