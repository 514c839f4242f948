package relationships

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Genre is stored by name.
type Genre string

const (
	GenreFiction        Genre = "FICTION"
	GenreNonFiction     Genre = "NON_FICTION"
	GenreScienceFiction Genre = "SCIENCE_FICTION"
	GenreFantasy        Genre = "FANTASY"
	GenreMystery        Genre = "MYSTERY"
	GenreThriller       Genre = "THRILLER"
	GenreRomance        Genre = "ROMANCE"
	GenreHorror         Genre = "HORROR"
	GenreBiography      Genre = "BIOGRAPHY"
	GenreHistory        Genre = "HISTORY"
	GenrePoetry         Genre = "POETRY"
	GenreDrama          Genre = "DRAMA"
	GenreChildren       Genre = "CHILDREN"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func entityValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Relation fields are excluded from msgpack so session snapshots only cover
// the columns of each row and never follow back references.

// Author writes books, works with publishers and has at most one profile.
type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID    int64  `bun:"id,pk,autoincrement" json:"id"`
	Name  string `bun:"name,notnull" json:"name" validate:"required,max=100"`
	Email string `bun:"email,unique,nullzero" json:"email,omitempty" validate:"omitempty,email"`

	Books      []*Book        `bun:"rel:has-many,join:id=author_id" json:"books,omitempty" msgpack:"-"`
	Publishers []*Publisher   `bun:"m2m:author_publishers,join:Author=Publisher" json:"publishers,omitempty" msgpack:"-"`
	Profile    *AuthorProfile `bun:"rel:has-one,join:id=author_id" json:"profile,omitempty" msgpack:"-" validate:"-"`
}

func (a *Author) PrimaryKey() any { return a.ID }

func (a *Author) Validate() error { return entityValidator().Struct(a) }

// AddBook links both sides of the author/book association.
func (a *Author) AddBook(b *Book) {
	a.Books = append(a.Books, b)
	b.Author = a
	b.AuthorID = a.ID
}

// RemoveBook unlinks b. It reports whether b belonged to the author.
func (a *Author) RemoveBook(b *Book) bool {
	for i, book := range a.Books {
		if book == b || (b.ID != 0 && book.ID == b.ID) {
			a.Books = append(a.Books[:i], a.Books[i+1:]...)
			b.Author = nil
			return true
		}
	}
	return false
}

// AddPublisher links both sides of the many-to-many association.
func (a *Author) AddPublisher(p *Publisher) {
	for _, existing := range a.Publishers {
		if existing == p || (p.ID != 0 && existing.ID == p.ID) {
			return
		}
	}
	a.Publishers = append(a.Publishers, p)
	p.Authors = append(p.Authors, a)
}

// RemovePublisher unlinks both sides.
func (a *Author) RemovePublisher(p *Publisher) {
	a.Publishers = removeByID(a.Publishers, p, func(x *Publisher) int64 { return x.ID })
	p.Authors = removeByID(p.Authors, a, func(x *Author) int64 { return x.ID })
}

// SetProfile replaces the profile, keeping the back reference in sync.
func (a *Author) SetProfile(p *AuthorProfile) {
	if a.Profile != nil && a.Profile != p {
		a.Profile.Author = nil
	}
	if p != nil {
		p.Author = a
		p.AuthorID = a.ID
	}
	a.Profile = p
}

func removeByID[T comparable](items []T, target T, id func(T) int64) []T {
	out := items[:0]
	for _, item := range items {
		if item == target || (id(target) != 0 && id(item) == id(target)) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// AuthorProfile is the owning side of the one-to-one association: author_id
// is unique, so an author has at most one profile.
type AuthorProfile struct {
	bun.BaseModel `bun:"table:author_profiles,alias:ap"`

	ID                int64     `bun:"id,pk,autoincrement" json:"id"`
	AuthorID          int64     `bun:"author_id,notnull,unique" json:"author_id"`
	Author            *Author   `bun:"rel:belongs-to,join:author_id=id" json:"-" msgpack:"-" validate:"-"`
	Biography         string    `bun:"biography,type:text" json:"biography,omitempty" validate:"max=5000"`
	BirthDate         time.Time `bun:"birth_date,nullzero" json:"birth_date,omitempty"`
	Website           string    `bun:"website,nullzero" json:"website,omitempty" validate:"omitempty,url"`
	TwitterHandle     string    `bun:"twitter_handle,nullzero" json:"twitter_handle,omitempty" validate:"omitempty,startswith=@,max=16"`
	PreferredGenre    Genre     `bun:"preferred_genre,nullzero" json:"preferred_genre,omitempty" validate:"omitempty,oneof=FICTION NON_FICTION SCIENCE_FICTION FANTASY MYSTERY THRILLER ROMANCE HORROR BIOGRAPHY HISTORY POETRY DRAMA CHILDREN"`
	AcceptingProjects bool      `bun:"accepting_projects,notnull" json:"accepting_projects"`
}

func (p *AuthorProfile) PrimaryKey() any { return p.ID }

func (p *AuthorProfile) Validate() error { return entityValidator().Struct(p) }

// Book belongs to exactly one author and optionally to a publisher.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	ISBN            string          `bun:"isbn,unique,notnull" json:"isbn" validate:"required,isbn"`
	Title           string          `bun:"title,notnull" json:"title" validate:"required,max=200"`
	Description     string          `bun:"description,nullzero" json:"description,omitempty"`
	PublicationDate time.Time       `bun:"publication_date,nullzero" json:"publication_date,omitempty"`
	Price           decimal.Decimal `bun:"price,type:decimal(10,2)" json:"price"`
	Genre           Genre           `bun:"genre,nullzero" json:"genre,omitempty"`

	AuthorID    int64      `bun:"author_id,notnull" json:"author_id"`
	Author      *Author    `bun:"rel:belongs-to,join:author_id=id" json:"-" msgpack:"-" validate:"-"`
	PublisherID int64      `bun:"publisher_id,nullzero" json:"publisher_id,omitempty"`
	Publisher   *Publisher `bun:"rel:belongs-to,join:publisher_id=id" json:"publisher,omitempty" msgpack:"-" validate:"-"`
}

func (b *Book) PrimaryKey() any { return b.ID }

func (b *Book) Validate() error { return entityValidator().Struct(b) }

// NewBook returns a book with a title and ISBN.
func NewBook(isbn, title string, price decimal.Decimal) *Book {
	return &Book{ISBN: isbn, Title: title, Price: price}
}

// Publisher publishes books and works with many authors.
type Publisher struct {
	bun.BaseModel `bun:"table:publishers,alias:p"`

	ID      int64  `bun:"id,pk,autoincrement" json:"id"`
	Name    string `bun:"name,notnull" json:"name" validate:"required,max=100"`
	Website string `bun:"website,nullzero" json:"website,omitempty" validate:"omitempty,url"`

	Authors []*Author `bun:"m2m:author_publishers,join:Publisher=Author" json:"-" msgpack:"-"`
	Books   []*Book   `bun:"rel:has-many,join:id=publisher_id" json:"-" msgpack:"-"`
}

func (p *Publisher) PrimaryKey() any { return p.ID }

func (p *Publisher) Validate() error { return entityValidator().Struct(p) }

// AuthorPublisher is the join table of the many-to-many association. The
// composite primary key keeps each pair unique.
type AuthorPublisher struct {
	bun.BaseModel `bun:"table:author_publishers,alias:apx"`

	AuthorID    int64      `bun:"author_id,pk"`
	Author      *Author    `bun:"rel:belongs-to,join:author_id=id"`
	PublisherID int64      `bun:"publisher_id,pk"`
	Publisher   *Publisher `bun:"rel:belongs-to,join:publisher_id=id"`
}
