package inheritance

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is stored by name.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusRefunded   PaymentStatus = "REFUNDED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

var paymentStatuses = []any{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled}

// PaymentType is the discriminator value of a payment subtype.
type PaymentType string

const (
	TypeCreditCard   PaymentType = "CREDIT_CARD"
	TypeBankTransfer PaymentType = "BANK_TRANSFER"
)

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	cardPattern     = regexp.MustCompile(`^\d{16}$`)
	cvvPattern      = regexp.MustCompile(`^\d{3}$`)
	accountPattern  = regexp.MustCompile(`^\d{10,12}$`)
	routingPattern  = regexp.MustCompile(`^\d{9}$`)
	ibanPattern     = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{1,30}$`)
	swiftPattern    = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
)

// Payment is implemented by every payment subtype. Stores map it to tables
// according to their inheritance strategy.
type Payment interface {
	Core() *PaymentCore
	Type() PaymentType
	Validate() error
}

// PaymentCore holds the state shared by every payment subtype.
type PaymentCore struct {
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	Amount        decimal.Decimal `bun:"amount,notnull,type:decimal(10,2)"`
	Currency      string          `bun:"currency,notnull,type:varchar(3)"`
	PaymentDate   time.Time       `bun:"payment_date,notnull"`
	Status        PaymentStatus   `bun:"status,notnull"`
	TransactionID string          `bun:"transaction_id,unique,nullzero"`
}

func (c *PaymentCore) Core() *PaymentCore { return c }

func (c *PaymentCore) PrimaryKey() any { return c.ID }

func (c *PaymentCore) rules() []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&c.Amount, validation.By(positiveAmount)),
		validation.Field(&c.Currency, validation.Required, validation.Match(currencyPattern)),
		validation.Field(&c.Status, validation.Required, validation.In(paymentStatuses...)),
	}
}

// prepare fills the defaults applied on first save.
func (c *PaymentCore) prepare(now time.Time) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.PaymentDate.IsZero() {
		c.PaymentDate = now.UTC()
	}
	if c.TransactionID == "" {
		c.TransactionID = "TXN" + strings.ToUpper(strings.ReplaceAll(c.ID.String(), "-", ""))
	}
}

func positiveAmount(value any) error {
	amount, _ := value.(decimal.Decimal)
	if !amount.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

// CardDetails are the columns specific to card payments.
type CardDetails struct {
	CardNumber      string `bun:"card_number,nullzero"`
	CardHolderName  string `bun:"card_holder_name,nullzero"`
	ExpirationMonth int    `bun:"expiration_month,nullzero"`
	ExpirationYear  int    `bun:"expiration_year,nullzero"`
	CVV             string `bun:"cvv,nullzero"`
}

// CreditCardPayment is paid by card.
type CreditCardPayment struct {
	PaymentCore
	CardDetails
}

func (p *CreditCardPayment) Type() PaymentType { return TypeCreditCard }

// Validate checks the shared fields and the card fields. Cards expiring
// before the current month are rejected.
func (p *CreditCardPayment) Validate() error {
	now := time.Now()
	rules := append(p.PaymentCore.rules(),
		validation.Field(&p.CardNumber, validation.Required, validation.Match(cardPattern)),
		validation.Field(&p.CardHolderName, validation.Required, validation.Length(2, 0)),
		validation.Field(&p.ExpirationMonth, validation.Required, validation.Min(1), validation.Max(12)),
		validation.Field(&p.ExpirationYear, validation.Required, validation.Min(now.Year())),
		validation.Field(&p.CVV, validation.Required, validation.Match(cvvPattern)),
	)
	if err := validation.ValidateStruct(p, rules...); err != nil {
		return err
	}
	if p.ExpirationYear == now.Year() && p.ExpirationMonth < int(now.Month()) {
		return validation.Errors{"ExpirationMonth": errors.New("card has expired")}
	}
	return nil
}

// BankDetails are the columns specific to bank transfers.
type BankDetails struct {
	BankName        string `bun:"bank_name,nullzero"`
	AccountNumber   string `bun:"account_number,nullzero"`
	RoutingNumber   string `bun:"routing_number,nullzero"`
	IBAN            string `bun:"iban,nullzero"`
	SWIFTCode       string `bun:"swift_code,nullzero"`
	ReferenceNumber string `bun:"reference_number,nullzero"`
}

// BankTransferPayment is paid by bank transfer.
type BankTransferPayment struct {
	PaymentCore
	BankDetails
}

func (p *BankTransferPayment) Type() PaymentType { return TypeBankTransfer }

// Validate checks the shared fields and the bank fields.
func (p *BankTransferPayment) Validate() error {
	rules := append(p.PaymentCore.rules(),
		validation.Field(&p.BankName, validation.Required),
		validation.Field(&p.AccountNumber, validation.Required, validation.Match(accountPattern)),
		validation.Field(&p.RoutingNumber, validation.Required, validation.Match(routingPattern)),
		validation.Field(&p.IBAN, validation.Required, validation.Match(ibanPattern)),
		validation.Field(&p.SWIFTCode, validation.Required, validation.Match(swiftPattern)),
	)
	return validation.ValidateStruct(p, rules...)
}
