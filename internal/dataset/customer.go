package dataset

import "time"

// Customer is the row shape of the customers relation as produced by the
// upstream generator. Nullable columns are pointers.
type Customer struct {
	CustomerID  int64      `gorm:"column:customer_id;primaryKey;autoIncrement:false" json:"customer_id"`
	Name        string     `gorm:"column:name;type:text" json:"name"`
	Email       *string    `gorm:"column:email;type:text" json:"email"`
	PhoneNumber *string    `gorm:"column:phone_number;type:text" json:"phone_number"`
	SignupDate  *time.Time `gorm:"column:signup_date" json:"signup_date"`
	Country     *string    `gorm:"column:country;type:text" json:"country"`
	LastActive  *time.Time `gorm:"column:last_active" json:"last_active"`
}

func (Customer) TableName() string {
	return DefaultTable
}
