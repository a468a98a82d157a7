// Package classifier maps a rendered profile page onto an account status and
// extracts the auxiliary fields recorded alongside it.
package classifier

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// ErrorEmptyPage is recorded when a fetch returned no markup to classify.
const ErrorEmptyPage = "empty_page"

type rule struct {
	status  tracker.Status
	phrases []string
}

// rules are evaluated in order and the first matching phrase wins. The order
// is significant: "limited" under restricted also occurs on pages that belong
// to earlier categories.
var rules = []rule{
	{tracker.StatusSuspended, []string{
		"account suspended",
		"this account is suspended",
		"has been suspended",
	}},
	{tracker.StatusDoesNotExist, []string{
		"this account doesn’t exist",
		"this account doesn't exist",
		"try searching for another",
	}},
	{tracker.StatusProtected, []string{
		"these posts are protected",
		"only approved followers can see",
	}},
	{tracker.StatusRestricted, []string{
		"temporarily restricted",
		"limited",
		"caution:",
	}},
}

var postCountPattern = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})*|\d+)\s+posts\b`)

// Config names the page regions the classifier inspects.
type Config struct {
	LoginSelector       string   `mapstructure:"login_selector"`
	LoginTitleMarkers   []string `mapstructure:"login_title_markers"`
	LoginTextMarkers    []string `mapstructure:"login_text_markers"`
	LoginPathMarkers    []string `mapstructure:"login_path_markers"`
	BioSelector         string   `mapstructure:"bio_selector"`
	ContentItemSelector string   `mapstructure:"content_item_selector"`
}

// DefaultConfig returns the selectors used by the public profile pages.
func DefaultConfig() Config {
	return Config{
		LoginSelector:       `[data-testid="loginButton"]`,
		LoginTitleMarkers:   []string{"Sign in to X", "Log in"},
		LoginTextMarkers:    []string{"Sign in to X"},
		LoginPathMarkers:    []string{"/i/flow/login", "/login"},
		BioSelector:         `[data-testid="UserDescription"]`,
		ContentItemSelector: `article[role="article"]`,
	}
}

// Result is the outcome of classifying one page.
type Result struct {
	Status    tracker.Status
	PostCount *int64
	Visible   tracker.Visibility
	Bio       string
	// Error carries a marker for login walls and unclassifiable pages.
	Error string
}

// Classifier applies the status rules to fetched pages.
type Classifier struct {
	cfg Config
}

// New builds a Classifier. Empty fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.LoginSelector == "" {
		cfg.LoginSelector = def.LoginSelector
	}
	if len(cfg.LoginTitleMarkers) == 0 {
		cfg.LoginTitleMarkers = def.LoginTitleMarkers
	}
	if len(cfg.LoginTextMarkers) == 0 {
		cfg.LoginTextMarkers = def.LoginTextMarkers
	}
	if len(cfg.LoginPathMarkers) == 0 {
		cfg.LoginPathMarkers = def.LoginPathMarkers
	}
	if cfg.BioSelector == "" {
		cfg.BioSelector = def.BioSelector
	}
	if cfg.ContentItemSelector == "" {
		cfg.ContentItemSelector = def.ContentItemSelector
	}
	return &Classifier{cfg: cfg}
}

// Classify inspects page and returns exactly one status. Login walls short
// circuit before any other extraction.
func (c *Classifier) Classify(page tracker.Page) Result {
	if len(bytes.TrimSpace(page.HTML)) == 0 {
		return Result{Status: tracker.StatusUnknown, Error: ErrorEmptyPage}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return Result{Status: tracker.StatusUnknown, Error: err.Error()}
	}
	doc.Find("script, style, noscript, template").Remove()

	title := page.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	text := strings.ToLower(visibleText(doc.Find("body")))

	if c.isLoginWall(doc, page.FinalURL, title, text) {
		return Result{Status: tracker.StatusLoginRequired, Error: tracker.ErrorLoginWall}
	}

	items := doc.Find(c.cfg.ContentItemSelector).Length()
	return Result{
		Status:    StatusOf(text),
		PostCount: PostCount(text),
		Visible:   tracker.VisibilityOf(items > 0),
		Bio:       collapse(doc.Find(c.cfg.BioSelector).First().Text()),
	}
}

// StatusOf applies the phrase rules to case-folded page text.
func StatusOf(lowerText string) tracker.Status {
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(lowerText, phrase) {
				return r.status
			}
		}
	}
	return tracker.StatusActive
}

// PostCount extracts the first "<n> posts" figure from text.
func PostCount(text string) *int64 {
	m := postCountPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// isLoginWall reports a redirect to a login flow or a page carrying login
// markers in its title, DOM, or text.
func (c *Classifier) isLoginWall(doc *goquery.Document, finalURL, title, lowerText string) bool {
	if finalURL != "" {
		if u, err := url.Parse(finalURL); err == nil {
			for _, marker := range c.cfg.LoginPathMarkers {
				if marker != "" && (u.Path == marker || strings.HasPrefix(u.Path, marker+"/")) {
					return true
				}
			}
		}
	}
	for _, marker := range c.cfg.LoginTitleMarkers {
		if marker != "" && strings.Contains(title, marker) {
			return true
		}
	}
	if doc.Find(c.cfg.LoginSelector).Length() > 0 {
		return true
	}
	for _, marker := range c.cfg.LoginTextMarkers {
		if marker != "" && strings.Contains(lowerText, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// blockElements start a new line in rendered text. Text inside any other
// element runs on from its neighbours.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

// visibleText renders the text under sel the way a browser's innerText
// does: inline text nodes are concatenated and block boundaries become
// whitespace.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "br" {
				b.WriteByte('\n')
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			b.WriteByte('\n')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
