package relationships

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Models lists the tables of this module, parents first.
func Models() []any {
	return []any{
		(*Author)(nil),
		(*Publisher)(nil),
		(*AuthorProfile)(nil),
		(*Book)(nil),
		(*AuthorPublisher)(nil),
	}
}

// JoinModels lists the many-to-many join models. They must be registered
// with the database before any model using them is touched.
func JoinModels() []any {
	return []any{(*AuthorPublisher)(nil)}
}

// Demo walks through one-to-one, one-to-many and many-to-many associations.
type Demo struct {
	library *Library
	logger  zerolog.Logger
}

func NewDemo(factory *session.Factory) *Demo {
	return &Demo{
		library: NewLibrary(factory),
		logger:  factory.Logger().With().Str("module", "relationships").Logger(),
	}
}

// Library returns the service used by the demo.
func (d *Demo) Library() *Library { return d.library }

// Run creates an author graph and navigates it from both sides.
func (d *Demo) Run(ctx context.Context) error {
	orbit := &Publisher{Name: "Orbit Books", Website: "https://www.orbitbooks.net"}
	tor := &Publisher{Name: "Tor Books", Website: "https://www.tor.com"}
	if err := d.library.CreatePublisher(ctx, tor); err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}

	author := &Author{Name: "Ursula Example", Email: "ursula@example.com"}
	author.SetProfile(&AuthorProfile{
		Biography:         "Writes about distant worlds.",
		BirthDate:         time.Date(1970, 10, 21, 0, 0, 0, 0, time.UTC),
		TwitterHandle:     "@ursula",
		PreferredGenre:    GenreScienceFiction,
		AcceptingProjects: true,
	})
	author.AddBook(&Book{ISBN: "9780306406157", Title: "The Left Hand", Price: decimal.RequireFromString("14.99"), Genre: GenreScienceFiction})
	author.AddBook(&Book{ISBN: "9780262033848", Title: "A Wizard's Shore", Price: decimal.RequireFromString("12.50"), Genre: GenreFantasy})
	author.AddPublisher(orbit)
	author.AddPublisher(tor)

	if err := d.library.CreateAuthor(ctx, author); err != nil {
		return fmt.Errorf("create author: %w", err)
	}
	d.logger.Info().Int64("author_id", author.ID).Int64("profile_id", author.Profile.ID).Msg("one-to-one: author and profile saved together")

	third := &Book{ISBN: "9780134190440", Title: "The Dispossessed Gopher", Price: decimal.RequireFromString("19.00"), PublisherID: orbit.ID}
	if err := d.library.AddBook(ctx, author.ID, third); err != nil {
		return fmt.Errorf("add book: %w", err)
	}

	lazy, err := d.library.LoadAuthor(ctx, author.ID, FetchNone)
	if err != nil {
		return err
	}
	d.logger.Info().Bool("books_loaded", lazy.Books != nil).Bool("profile_loaded", lazy.Profile != nil).Msg("plain load leaves associations unloaded")

	full, err := d.library.LoadAuthor(ctx, author.ID, FetchAll)
	if err != nil {
		return err
	}
	for _, b := range full.Books {
		d.logger.Info().Str("title", b.Title).Str("author", b.Author.Name).Msg("one-to-many: book navigates back to its author")
	}
	for _, p := range full.Publishers {
		d.logger.Info().Str("publisher", p.Name).Msg("many-to-many: author publisher")
	}

	books, err := d.library.BooksByPublisher(ctx, orbit.ID)
	if err != nil {
		return err
	}
	d.logger.Info().Str("publisher", orbit.Name).Int("books", len(books)).Msg("books by publisher")

	publisher, err := d.library.LoadPublisher(ctx, tor.ID)
	if err != nil {
		return err
	}
	d.logger.Info().Str("publisher", publisher.Name).Int("authors", len(publisher.Authors)).Msg("many-to-many: inverse side")

	if err := d.library.RemovePublisher(ctx, author.ID, tor.ID); err != nil {
		return err
	}
	if err := d.library.RemoveBook(ctx, author.ID, third.ID); err != nil {
		return err
	}
	d.logger.Info().Msg("orphan book removed and publisher unlinked")
	return nil
}
