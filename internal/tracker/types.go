package tracker

import (
	"strings"
	"time"
)

// Target is a canonical account identifier. The original case is preserved for
// display; comparisons go through Key.
type Target string

// Key returns the case-insensitive identity of the target.
func (t Target) Key() string {
	return strings.ToLower(string(t))
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return string(t)
}

// URL joins the target onto the profile base URL.
func (t Target) URL(base string) string {
	return strings.TrimRight(base, "/") + "/" + string(t)
}

// Status is the visibility classification of an account.
type Status string

// Known statuses, in classifier precedence order where it applies.
const (
	StatusSuspended     Status = "suspended"
	StatusDoesNotExist  Status = "does_not_exist"
	StatusProtected     Status = "protected"
	StatusRestricted    Status = "restricted"
	StatusLoginRequired Status = "login_required"
	StatusActive        Status = "active_or_visible"
	StatusUnknown       Status = "unknown"
)

// AllStatuses lists every status value in reporting order.
var AllStatuses = []Status{
	StatusSuspended,
	StatusDoesNotExist,
	StatusProtected,
	StatusRestricted,
	StatusLoginRequired,
	StatusActive,
	StatusUnknown,
}

// Visibility is the tri-state "has visible posts" flag.
type Visibility string

// Visibility values. The zero value means unknown.
const (
	VisibilityUnknown Visibility = ""
	VisibilityYes     Visibility = "yes"
	VisibilityNo      Visibility = "no"
)

// VisibilityOf maps a boolean observation onto Visibility.
func VisibilityOf(visible bool) Visibility {
	if visible {
		return VisibilityYes
	}
	return VisibilityNo
}

// Error markers written into CheckRecord.Error.
const (
	ErrorLoginWall = "login_wall"
	ErrorTimeout   = "timeout"
)

// CheckRecord is one executed check. Records are appended once and never mutated.
type CheckRecord struct {
	Timestamp  time.Time
	Target     Target
	URL        string
	Status     Status
	PostCount  *int64
	Visible    Visibility
	Bio        string
	Screenshot string
	Error      string
}

// Blocking reports whether the record indicates the remote service refused
// normal access.
func (r CheckRecord) Blocking() bool {
	return r.Status == StatusLoginRequired || r.Error == ErrorLoginWall
}

// FetchRequest asks a PageFetcher for one URL.
type FetchRequest struct {
	URL string
	// Capture requests a bounded visual capture of the top of the page.
	Capture bool
}

// Page is the rendered surface returned by a PageFetcher.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	HTML       []byte
	// Screenshot is empty when capture was not requested or failed.
	Screenshot []byte
}
