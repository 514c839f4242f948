package relationships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// ErrDuplicateISBN is returned when a book with the same ISBN exists.
var ErrDuplicateISBN = errors.New("duplicate isbn")

// FetchPlan selects which associations LoadAuthor loads eagerly. Anything
// not in the plan is left nil.
type FetchPlan uint8

const (
	FetchBooks FetchPlan = 1 << iota
	FetchPublishers
	FetchProfile

	FetchNone FetchPlan = 0
	FetchAll            = FetchBooks | FetchPublishers | FetchProfile
)

func (p FetchPlan) Has(f FetchPlan) bool { return p&f != 0 }

func (p FetchPlan) String() string {
	if p == FetchNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag FetchPlan
		name string
	}{{FetchBooks, "books"}, {FetchPublishers, "publishers"}, {FetchProfile, "profile"}} {
		if p.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "+")
}

// Library manages authors and their associations. Writes run in one
// transaction per call; cascades are applied explicitly, children after
// parents on insert and before them on delete.
type Library struct {
	factory *session.Factory
	logger  zerolog.Logger
}

func NewLibrary(factory *session.Factory) *Library {
	return &Library{
		factory: factory,
		logger:  factory.Logger().With().Str("service", "library").Logger(),
	}
}

// CreateAuthor inserts a and cascades to its profile, books and publishers.
// Publishers without an id are inserted first; existing ones are linked.
func (l *Library) CreateAuthor(ctx context.Context, a *Author) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if err := s.Persist(ctx, a); err != nil {
			return err
		}
		if a.Profile != nil {
			a.SetProfile(a.Profile)
			if err := s.Persist(ctx, a.Profile); err != nil {
				return err
			}
		}
		for _, b := range a.Books {
			b.Author, b.AuthorID = a, a.ID
			if err := insertBook(ctx, s, b); err != nil {
				return err
			}
		}
		for _, p := range a.Publishers {
			if p.ID == 0 {
				if err := s.Persist(ctx, p); err != nil {
					return err
				}
			}
			if err := link(ctx, s.IDB(), a.ID, p.ID); err != nil {
				return err
			}
		}
		l.logger.Debug().
			Int64("author_id", a.ID).
			Int("books", len(a.Books)).
			Int("publishers", len(a.Publishers)).
			Bool("profile", a.Profile != nil).
			Msg("author created")
		return nil
	})
}

// CreatePublisher inserts a publisher.
func (l *Library) CreatePublisher(ctx context.Context, p *Publisher) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		return s.Persist(ctx, p)
	})
}

// AddBook attaches a new book to an existing author.
func (l *Library) AddBook(ctx context.Context, authorID int64, b *Book) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		author, err := session.Find[Author](ctx, s, authorID)
		if err != nil {
			return err
		}
		author.AddBook(b)
		return insertBook(ctx, s, b)
	})
}

// RemoveBook detaches a book from its author. A book cannot exist without an
// author, so the orphan is deleted.
func (l *Library) RemoveBook(ctx context.Context, authorID, bookID int64) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		book, err := session.FindOne[Book](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("b.id = ?", bookID).Where("b.author_id = ?", authorID)
		})
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return session.NotFound("Book", fmt.Sprintf("%d of author %d", bookID, authorID))
			}
			return err
		}
		if err := s.Remove(ctx, book); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

// AddPublisher links an author and a publisher. Linking twice is a no-op.
func (l *Library) AddPublisher(ctx context.Context, authorID, publisherID int64) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if _, err := session.Find[Author](ctx, s, authorID); err != nil {
			return err
		}
		if _, err := session.Find[Publisher](ctx, s, publisherID); err != nil {
			return err
		}
		return link(ctx, s.IDB(), authorID, publisherID)
	})
}

// RemovePublisher deletes the join row only; both entities survive.
func (l *Library) RemovePublisher(ctx context.Context, authorID, publisherID int64) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		res, err := s.IDB().NewDelete().
			Model((*AuthorPublisher)(nil)).
			Where("author_id = ?", authorID).
			Where("publisher_id = ?", publisherID).
			Exec(ctx)
		if err != nil {
			return session.Internal(err, "unlink publisher")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.NotFound("AuthorPublisher", fmt.Sprintf("%d/%d", authorID, publisherID))
		}
		return nil
	})
}

// LoadAuthor loads an author and the associations named by plan. Books come
// with their publisher and are ordered by title; back references point at
// the returned author.
func (l *Library) LoadAuthor(ctx context.Context, id int64, plan FetchPlan) (*Author, error) {
	a := new(Author)
	q := l.factory.DB().NewSelect().Model(a).Where("a.id = ?", id)
	if plan.Has(FetchBooks) {
		q = q.Relation("Books", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("b.title")
		}).Relation("Books.Publisher")
	}
	if plan.Has(FetchPublishers) {
		q = q.Relation("Publishers", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("p.name")
		})
	}
	if plan.Has(FetchProfile) {
		q = q.Relation("Profile")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.NotFound("Author", id)
		}
		return nil, session.Internal(err, "load author")
	}

	for _, b := range a.Books {
		b.Author = a
		if b.Publisher != nil && b.Publisher.ID == 0 {
			b.Publisher = nil
		}
	}
	if a.Profile != nil {
		if a.Profile.ID == 0 {
			a.Profile = nil
		} else {
			a.Profile.Author = a
		}
	}
	l.logger.Debug().Int64("author_id", id).Stringer("plan", plan).Msg("author loaded")
	return a, nil
}

// LoadPublisher loads a publisher with its authors and books, the inverse
// side of both associations.
func (l *Library) LoadPublisher(ctx context.Context, id int64) (*Publisher, error) {
	p := new(Publisher)
	err := l.factory.DB().NewSelect().Model(p).
		Relation("Authors", func(q *bun.SelectQuery) *bun.SelectQuery { return q.Order("a.name") }).
		Relation("Books", func(q *bun.SelectQuery) *bun.SelectQuery { return q.Order("b.title") }).
		Where("p.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.NotFound("Publisher", id)
	}
	if err != nil {
		return nil, session.Internal(err, "load publisher")
	}
	for _, b := range p.Books {
		b.Publisher = p
	}
	return p, nil
}

// BooksByPublisher returns the books of a publisher with their authors.
func (l *Library) BooksByPublisher(ctx context.Context, publisherID int64) ([]*Book, error) {
	var books []*Book
	err := l.factory.DB().NewSelect().Model(&books).
		Relation("Author").
		Where("b.publisher_id = ?", publisherID).
		Order("b.title").
		Scan(ctx)
	if err != nil {
		return nil, session.Internal(err, "select books by publisher")
	}
	return books, nil
}

// DeleteAuthor deletes an author together with its profile, books and
// publisher links. Publishers are kept.
func (l *Library) DeleteAuthor(ctx context.Context, id int64) error {
	return l.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		author, err := session.Find[Author](ctx, s, id)
		if err != nil {
			return err
		}
		idb := s.IDB()
		for _, child := range []struct {
			model any
			name  string
		}{
			{(*AuthorProfile)(nil), "author profile"},
			{(*Book)(nil), "books"},
			{(*AuthorPublisher)(nil), "publisher links"},
		} {
			if _, err := idb.NewDelete().Model(child.model).Where("author_id = ?", id).Exec(ctx); err != nil {
				return session.Internal(err, "delete "+child.name)
			}
		}
		if err := s.Remove(ctx, author); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
}

func insertBook(ctx context.Context, s *session.Session, b *Book) error {
	n, err := s.IDB().NewSelect().Model((*Book)(nil)).Where("isbn = ?", b.ISBN).Count(ctx)
	if err != nil {
		return session.Internal(err, "count books by isbn")
	}
	if n > 0 {
		return goerrors.Wrap(ErrDuplicateISBN, goerrors.CategoryConflict, "a book with isbn "+b.ISBN+" already exists").
			WithTextCode("DUPLICATE_KEY").
			WithMetadata(map[string]any{"isbn": b.ISBN})
	}
	return s.Persist(ctx, b)
}

// link inserts a join row unless the pair is already linked.
func link(ctx context.Context, idb bun.IDB, authorID, publisherID int64) error {
	_, err := idb.NewInsert().
		Model(&AuthorPublisher{AuthorID: authorID, PublisherID: publisherID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return session.Internal(err, "link publisher")
	}
	return nil
}
