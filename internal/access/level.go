// Package access decides whether a caller may act on a document. Grants come
// from three sources checked in order: document ownership, room membership,
// and share tokens.
package access

type Level string

const (
	LevelRead   Level = "read"
	LevelEdit   Level = "edit"
	LevelManage Level = "manage"
)

// Covers reports whether a grant at level l satisfies the required level.
// Levels are strictly ordered: read < edit < manage.
func (l Level) Covers(required Level) bool {
	return rank(l) >= rank(required)
}

func rank(l Level) int {
	switch l {
	case LevelManage:
		return 3
	case LevelEdit:
		return 2
	case LevelRead:
		return 1
	default:
		return 0
	}
}

func Normalize(level string) Level {
	switch Level(level) {
	case LevelRead, LevelEdit, LevelManage:
		return Level(level)
	default:
		return LevelRead
	}
}
