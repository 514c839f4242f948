package session

import (
	"fmt"
	"reflect"
)

// Entity is a mapped model with a primary key.
type Entity interface {
	PrimaryKey() any
}

// Versioned entities carry a version column used for optimistic locking. The
// column must be named "version".
type Versioned interface {
	Entity
	CurrentVersion() int64
	SetVersion(int64)
}

// Cacheable entities are stored in the named second-level cache region.
type Cacheable interface {
	Entity
	CacheRegion() string
}

// Validator entities are validated before insert and update.
type Validator interface {
	Validate() error
}

// entityName returns the bare type name of an entity, used in errors and logs.
func entityName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "entity"
	}
	return t.Name()
}

// identityKey is the identity map key: the entity type plus its primary key.
func identityKey(entity any, id any) string {
	return fmt.Sprintf("%T#%v", entity, id)
}

const versionColumn = "version"
