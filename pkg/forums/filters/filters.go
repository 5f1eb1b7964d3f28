// Package filters is the allow-list of list filters and sort orders for groups.
//
// Request values are only ever used as lookup keys; the SQL fragments come from
// the registry and carry bound parameters.
package filters

import (
	"net/url"
	"sort"
	"strconv"

	"gorm.io/gorm"
)

const (
	// MaxLimit caps how many rows a single page can request
	MaxLimit = 100

	DefaultSort = "new"
)

// Filter narrows a group listing
type Filter struct {
	Key   string
	Label string
	Where string
	Args  []any
}

// Sort orders a group listing
type Sort struct {
	Key     string
	Label   string
	OrderBy string
}

// Registry holds the named filters and sorts. It is populated once and only read afterwards.
type Registry struct {
	filters map[string]Filter
	sorts   map[string]Sort
}

// Default returns the registry used by the group listings
func Default() *Registry {
	return &Registry{
		filters: map[string]Filter{
			"challenge": {Key: "challenge", Label: "Challenge Groups", Where: "groups.type = ?", Args: []any{"challenge"}},
			"regular":   {Key: "regular", Label: "Regular Groups", Where: "groups.type = ?", Args: []any{"regular"}},
		},
		sorts: map[string]Sort{
			"new": {Key: "new", Label: "Newest", OrderBy: "groups.date_inserted DESC, groups.group_id DESC"},
			"old": {Key: "old", Label: "Oldest", OrderBy: "groups.date_inserted ASC, groups.group_id ASC"},
		},
	}
}

// Filter returns the named filter; unknown names report false
func (r *Registry) Filter(key string) (Filter, bool) {
	f, ok := r.filters[key]
	return f, ok
}

// Sort returns the named sort, falling back to DefaultSort for unknown names
func (r *Registry) Sort(key string) Sort {
	if s, ok := r.sorts[key]; ok {
		return s
	}
	return r.sorts[DefaultSort]
}

// Filters lists the filters ordered by key, for rendering links
func (r *Registry) Filters() []Filter {
	out := make([]Filter, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sorts lists the sorts ordered by key
func (r *Registry) Sorts() []Sort {
	out := make([]Sort, 0, len(r.sorts))
	for _, s := range r.sorts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Query is a resolved listing request
type Query struct {
	Filter string // empty when no (known) filter was requested
	Sort   string
	Page   int
	Limit  int
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Parse resolves filter, sort, page and limit from request values.
// Unknown filter or sort values are ignored rather than rejected.
func (r *Registry) Parse(values url.Values, defaultLimit int) Query {
	q := Query{Sort: DefaultSort, Page: 1, Limit: NormalizeLimit(0, defaultLimit)}
	if f := values.Get("filter"); f != "" {
		if _, ok := r.filters[f]; ok {
			q.Filter = f
		}
	}
	if s := values.Get("sort"); s != "" {
		if _, ok := r.sorts[s]; ok {
			q.Sort = s
		}
	}
	if p, err := strconv.Atoi(values.Get("page")); err == nil && p > 0 {
		q.Page = p
	}
	if l, err := strconv.Atoi(values.Get("limit")); err == nil {
		q.Limit = NormalizeLimit(l, defaultLimit)
	}
	return q
}

// NormalizeLimit applies the default for non-positive limits and caps at MaxLimit
func NormalizeLimit(limit, defaultLimit int) int {
	if defaultLimit <= 0 || defaultLimit > MaxLimit {
		defaultLimit = MaxLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Where applies q's filter only. Used for counting, where an ORDER BY is not wanted.
func (r *Registry) Where(q Query) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f, ok := r.filters[q.Filter]; ok {
			return db.Where(f.Where, f.Args...)
		}
		return db
	}
}

// Scope applies q's filter and sort to a gorm query, without paging
func (r *Registry) Scope(q Query) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return r.Where(q)(db).Order(r.Sort(q.Sort).OrderBy)
	}
}

// Paginate applies q's page window
func Paginate(q Query) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(q.Offset()).Limit(q.Limit)
	}
}

// Values encodes q back into query string values, overriding page.
// Used to build the paging and sorting links in the HTML views.
func (q Query) Values(page int) url.Values {
	v := url.Values{}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	if q.Sort != DefaultSort {
		v.Set("sort", q.Sort)
	}
	if page > 1 {
		v.Set("page", strconv.Itoa(page))
	}
	return v
}
