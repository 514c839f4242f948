package basics

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// EmployeeStatus is stored by name.
type EmployeeStatus string

const (
	StatusActive     EmployeeStatus = "ACTIVE"
	StatusOnLeave    EmployeeStatus = "ON_LEAVE"
	StatusTerminated EmployeeStatus = "TERMINATED"
)

// Employee is a plain mapped entity: generated identity, a unique email and a
// transient age that is validated but never stored.
type Employee struct {
	bun.BaseModel `bun:"table:employees"`

	ID        int64           `bun:"id,pk,autoincrement"`
	FirstName string          `bun:"first_name,notnull,type:varchar(50)"`
	LastName  string          `bun:"last_name,notnull,type:varchar(50)"`
	Email     string          `bun:"email,notnull,unique,type:varchar(100)"`
	Age       *int            `bun:"-" msgpack:"-"`
	Status    EmployeeStatus  `bun:"status,notnull,type:varchar(20)"`
	Salary    decimal.Decimal `bun:"salary,type:decimal(19,2)"`
	HireDate  time.Time       `bun:"hire_date,nullzero"`
}

// NewEmployee returns an active employee.
func NewEmployee(firstName, lastName, email string) *Employee {
	return &Employee{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Status:    StatusActive,
	}
}

func (e *Employee) PrimaryKey() any { return e.ID }

// FullName joins first and last name.
func (e *Employee) FullName() string {
	return e.FirstName + " " + e.LastName
}

// Validate runs before every insert and update.
func (e *Employee) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.FirstName, validation.Required, validation.Length(2, 50)),
		validation.Field(&e.LastName, validation.Required, validation.Length(2, 50)),
		validation.Field(&e.Email, validation.Required, validation.Length(0, 100), is.EmailFormat),
		validation.Field(&e.Age, validation.Min(18), validation.Max(100)),
		validation.Field(&e.Status, validation.Required, validation.In(StatusActive, StatusOnLeave, StatusTerminated)),
		validation.Field(&e.Salary, validation.By(validSalary)),
		validation.Field(&e.HireDate, validation.By(notInFuture)),
	)
}

func validSalary(value any) error {
	salary, _ := value.(decimal.Decimal)
	if salary.IsNegative() {
		return errors.New("must be positive or zero")
	}
	if !salary.Equal(salary.Round(2)) {
		return errors.New("must have at most two decimal places")
	}
	return nil
}

func notInFuture(value any) error {
	when, _ := value.(time.Time)
	if !when.IsZero() && when.After(time.Now()) {
		return errors.New("must be in the past or present")
	}
	return nil
}
