package model

import (
	"fmt"
	"time"
)

// Category names a class of source files that share one transformation
// pipeline and one destination root
type Category string

const (
	CategoryStyles     Category = "styles"
	CategoryScripts    Category = "scripts"
	CategoryImages     Category = "images"
	CategoryWebP       Category = "webp"
	CategoryHTML       Category = "html"
	CategoryComponents Category = "components" // Includable HTML fragments
)

// Categories lists every category in build order
func Categories() []Category {
	return []Category{
		CategoryStyles,
		CategoryScripts,
		CategoryImages,
		CategoryWebP,
		CategoryHTML,
		CategoryComponents,
	}
}

// ParseCategory converts a name to a Category
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", name)
}

// ChangeKind is the kind of a filesystem change
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ChangeEvent is a single filesystem change under a watched tree.
// Path is always absolute.
type ChangeEvent struct {
	Kind      ChangeKind `json:"kind"`
	Path      string     `json:"path"`
	Timestamp time.Time  `json:"timestamp"`
}
