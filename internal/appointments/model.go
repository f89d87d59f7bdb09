package appointments

import (
	"time"

	"github.com/mark77234/Tomo/internal/groups"
	"gorm.io/datatypes"
)

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04"
	timeLayoutFull = "15:04:05"
)

// Appointment is a scheduled event ("promise") bound to a group.
type Appointment struct {
	ID       int64          `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID  int64          `gorm:"column:group_id;not null;index:idx_appointments_group_name,priority:1;index:idx_appointments_group_slot,priority:1"`
	Name     string         `gorm:"column:name;size:190;not null;index:idx_appointments_group_name,priority:2;index:idx_appointments_name"`
	Date     datatypes.Date `gorm:"column:appointment_date;not null;index:idx_appointments_group_slot,priority:2"`
	Time     datatypes.Time `gorm:"column:appointment_time;not null;index:idx_appointments_group_slot,priority:3"`
	Location string         `gorm:"column:location;size:255;not null"`
	Group    groups.Group   `gorm:"foreignKey:GroupID;references:ID;constraint:OnDelete:RESTRICT"`
}

// TableName provides the explicit table binding for GORM.
func (Appointment) TableName() string {
	return "appointments"
}

// View is the transport-neutral shape of an appointment.
type View struct {
	ID         int64
	GroupTitle string
	Name       string
	Date       string
	Time       string
	Location   string
}

func viewOf(appointment Appointment, groupTitle string) View {
	return View{
		ID:         appointment.ID,
		GroupTitle: groupTitle,
		Name:       appointment.Name,
		Date:       time.Time(appointment.Date).Format(dateLayout),
		Time:       appointment.Time.String(),
		Location:   appointment.Location,
	}
}
