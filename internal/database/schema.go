package database

import (
	"context"
	"reflect"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterModels registers join models so bun can resolve many-to-many
// relations. It must run before any query touching those relations.
func RegisterModels(db *bun.DB, models ...any) {
	if len(models) > 0 {
		db.RegisterModel(models...)
	}
}

// CreateSchema creates missing tables for models, in order. Parents must come
// before the tables referencing them.
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		q := db.NewCreateTable().Model(model).IfNotExists().WithForeignKeys()
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "create table").
				WithTextCode("SCHEMA_CREATE_FAILED").
				WithMetadata(map[string]any{"table": tableName(db, model)})
		}
	}
	return nil
}

// DropSchema drops the tables for models in reverse order.
func DropSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for i := len(models) - 1; i >= 0; i-- {
		q := db.NewDropTable().Model(models[i]).IfExists()
		if IsPostgres(db) {
			q = q.Cascade()
		}
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "drop table").
				WithTextCode("SCHEMA_DROP_FAILED").
				WithMetadata(map[string]any{"table": tableName(db, models[i])})
		}
	}
	return nil
}

// ResetSchema drops and recreates the tables for models.
func ResetSchema(ctx context.Context, db bun.IDB, models ...any) error {
	if err := DropSchema(ctx, db, models...); err != nil {
		return err
	}
	return CreateSchema(ctx, db, models...)
}

// Truncate removes every row from the tables of models, children first.
func Truncate(ctx context.Context, db bun.IDB, models ...any) error {
	for i := len(models) - 1; i >= 0; i-- {
		if _, err := db.NewDelete().Model(models[i]).Where("1 = 1").Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "truncate table").
				WithMetadata(map[string]any{"table": tableName(db, models[i])})
		}
	}
	return nil
}

func tableName(db bun.IDB, model any) string {
	return db.Dialect().Tables().Get(typeOf(model)).Name
}

func typeOf(model any) reflect.Type {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
