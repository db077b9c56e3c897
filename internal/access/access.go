// Package access implements the permission algebra shared by the access
// resolver and share-link redemption: a total order over grant levels and
// the join (maximum) used to reconcile conflicting grants.
package access

// Level is a document permission level. The zero value means no access.
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelComment
	LevelEdit
)

const (
	permView    = "view"
	permComment = "comment"
	permEdit    = "edit"
)

// Parse maps a stored permission string to its Level. Unknown values map to
// LevelView so a corrupted grant row can never escalate access.
func Parse(permission string) Level {
	switch permission {
	case permView:
		return LevelView
	case permComment:
		return LevelComment
	case permEdit:
		return LevelEdit
	default:
		return LevelView
	}
}

// Valid reports whether permission names one of the three grant levels.
func Valid(permission string) bool {
	return permission == permView || permission == permComment || permission == permEdit
}

func (l Level) String() string {
	switch l {
	case LevelView:
		return permView
	case LevelComment:
		return permComment
	case LevelEdit:
		return permEdit
	default:
		return ""
	}
}

// Max is the lattice join over levels: commutative, associative, idempotent.
// Redemption applies it to reconcile a token's level with an existing grant,
// so applying it twice must equal applying it once.
func Max(a, b Level) Level {
	if a >= b {
		return a
	}
	return b
}

// Allows reports whether l satisfies an operation's minimum level. Edit
// implies comment implies view; LevelNone allows nothing.
func (l Level) Allows(min Level) bool {
	return l > LevelNone && l >= min
}

// Decision is the output of resolving a user's access to a document.
type Decision struct {
	Owner   bool
	GrantID string
	Level   Level
}

// Grant is the slice of a stored access grant the resolver needs.
type Grant struct {
	ID         string
	Permission string
}

// Resolve determines a user's effective access given the document owner and
// the named-user grant rows found for the (document, user) pair. The owner
// has full rights regardless of grant table contents. More than one row for
// the pair is a data-integrity violation; the highest-ranked row wins.
func Resolve(ownerID, userID string, grants []Grant) Decision {
	if userID != "" && userID == ownerID {
		return Decision{Owner: true, Level: LevelEdit}
	}
	var best Decision
	for _, g := range grants {
		level := Parse(g.Permission)
		if level > best.Level {
			best = Decision{GrantID: g.ID, Level: level}
		}
	}
	return best
}
