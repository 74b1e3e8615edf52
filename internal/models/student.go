package models

import "time"

// StudentStatus captures residency state within a hostel.
type StudentStatus string

const (
	StudentStatusActive     StudentStatus = "ACTIVE"
	StudentStatusInactive   StudentStatus = "INACTIVE"
	StudentStatusCheckedOut StudentStatus = "CHECKED_OUT"
)

// RoomType enumerates room configurations.
type RoomType string

const (
	RoomTypeSingle RoomType = "SINGLE"
	RoomTypeDouble RoomType = "DOUBLE"
	RoomTypeDorm   RoomType = "DORM"
)

// Student is a hostel resident and the recipient unit for targeting.
// NotificationPrefs is a JSON object of channel opt-ins.
type Student struct {
	ID                string        `db:"id" json:"id"`
	HostelID          string        `db:"hostel_id" json:"hostel_id"`
	FullName          string        `db:"full_name" json:"full_name"`
	Email             string        `db:"email" json:"email"`
	Status            StudentStatus `db:"status" json:"status"`
	YearOfStudy       int           `db:"year_of_study" json:"year_of_study"`
	Department        string        `db:"department" json:"department"`
	Gender            string        `db:"gender" json:"gender"`
	RoomID            *string       `db:"room_id" json:"room_id,omitempty"`
	NotificationPrefs []byte        `db:"notification_prefs" json:"notification_prefs,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// NotificationPreferences is the decoded form of Student.NotificationPrefs.
type NotificationPreferences struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Room is a hostel room used for room- and floor-based targeting.
type Room struct {
	ID        string    `db:"id" json:"id"`
	HostelID  string    `db:"hostel_id" json:"hostel_id"`
	Number    string    `db:"number" json:"number"`
	Floor     int       `db:"floor" json:"floor"`
	Block     string    `db:"block" json:"block"`
	Type      RoomType  `db:"type" json:"type"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TargetCandidate is the flattened student+room projection that custom
// targeting rules are evaluated against.
type TargetCandidate struct {
	StudentID         string        `db:"student_id" json:"student_id"`
	Status            StudentStatus `db:"status" json:"status"`
	YearOfStudy       int           `db:"year_of_study" json:"year_of_study"`
	Department        string        `db:"department" json:"department"`
	Gender            string        `db:"gender" json:"gender"`
	RoomID            *string       `db:"room_id" json:"room_id,omitempty"`
	RoomNumber        *string       `db:"room_number" json:"room_number,omitempty"`
	Floor             *int          `db:"floor" json:"floor,omitempty"`
	Block             *string       `db:"block" json:"block,omitempty"`
	RoomType          *RoomType     `db:"room_type" json:"room_type,omitempty"`
	NotificationPrefs []byte        `db:"notification_prefs" json:"-"`
}
