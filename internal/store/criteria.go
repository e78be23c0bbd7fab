package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// FieldKind is the value type of a filterable column
type FieldKind int

const (
	KindInt FieldKind = iota
	KindFloat
	KindString
	KindBool
	KindTime
)

// FieldSet whitelists the filterable and sortable fields of an entity, keyed by
// the query parameter name. Column names equal the keys.
type FieldSet map[string]FieldKind

// MonitorFields lists the filterable monitor fields
var MonitorFields = FieldSet{
	"id":                        KindInt,
	"name":                      KindString,
	"type":                      KindString,
	"method":                    KindString,
	"url":                       KindString,
	"interval_seconds":          KindInt,
	"timeout_seconds":           KindInt,
	"retry_count":               KindInt,
	"enabled":                   KindBool,
	"parent_id":                 KindInt,
	"upside_down_mode":          KindBool,
	"check_ssl_certificate":     KindBool,
	"response_time_warning_ms":  KindInt,
	"response_time_critical_ms": KindInt,
	"tags":                      KindString,
	"created_at":                KindTime,
	"updated_at":                KindTime,
}

// HeartbeatFields lists the filterable heartbeat fields
var HeartbeatFields = FieldSet{
	"id":                    KindInt,
	"monitor_id":            KindInt,
	"executed_at":           KindTime,
	"success":               KindBool,
	"status":                KindString,
	"severity":              KindString,
	"attempts":              KindInt,
	"response_time_ms":      KindInt,
	"response_status_code":  KindInt,
	"error_type":            KindString,
	"error_message":         KindString,
	"dns_resolved_ip":       KindString,
	"ssl_days_until_expiry": KindInt,
}

// Operator is a criteria filter operator
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
	OpSpecified          Operator = "specified"
	OpContains           Operator = "contains"
	OpDoesNotContain     Operator = "doesNotContain"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
)

// Filter is one parsed field.operator=value criterion
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Sort orders results by a field
type Sort struct {
	Field string
	Desc  bool
}

// Query is a parsed list request
type Query struct {
	Filters []Filter
	Sorts   []Sort
	Page    int
	Size    int
}

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// paging parameters that are not criteria
var reservedParams = map[string]bool{"page": true, "size": true, "sort": true, "eagerload": true}

// ParseQuery parses criteria filters, paging and sorting from query parameters.
// Unknown fields, operators and malformed values produce a ConfigurationError.
func ParseQuery(values url.Values, fields FieldSet) (Query, error) {
	q := Query{Size: defaultPageSize}
	cfgErr := &models.ConfigurationError{}

	for key, vals := range values {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}

		field, op, ok := strings.Cut(key, ".")
		if !ok {
			cfgErr.Add(key, "expected field.operator")
			continue
		}
		kind, known := fields[field]
		if !known {
			cfgErr.Add(key, "unknown filter field")
			continue
		}

		for _, raw := range vals {
			f, err := parseFilter(field, Operator(op), kind, raw)
			if err != nil {
				cfgErr.Add(key, err.Error())
				continue
			}
			q.Filters = append(q.Filters, f)
		}
	}

	if v := values.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			cfgErr.Add("page", "must be a non-negative integer")
		}
		q.Page = page
	}
	if v := values.Get("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > maxPageSize {
			cfgErr.Add("size", fmt.Sprintf("must be between 1 and %d", maxPageSize))
		}
		q.Size = size
	}

	for _, s := range values["sort"] {
		field, dir, _ := strings.Cut(s, ",")
		if _, known := fields[field]; !known {
			cfgErr.Add("sort", fmt.Sprintf("unknown sort field %q", field))
			continue
		}
		switch strings.ToLower(dir) {
		case "", "asc":
			q.Sorts = append(q.Sorts, Sort{Field: field})
		case "desc":
			q.Sorts = append(q.Sorts, Sort{Field: field, Desc: true})
		default:
			cfgErr.Add("sort", fmt.Sprintf("invalid direction %q", dir))
		}
	}

	if len(cfgErr.Fields) > 0 {
		return Query{}, cfgErr
	}
	return q, nil
}

func parseFilter(field string, op Operator, kind FieldKind, raw string) (Filter, error) {
	f := Filter{Field: field, Op: op}

	switch op {
	case OpSpecified:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("specified expects true or false")
		}
		f.Value = b
	case OpIn, OpNotIn:
		parts := strings.Split(raw, ",")
		list := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := parseValue(kind, strings.TrimSpace(p))
			if err != nil {
				return f, err
			}
			list = append(list, v)
		}
		f.Value = list
	case OpContains, OpDoesNotContain:
		if kind != KindString {
			return f, fmt.Errorf("%s is only supported on text fields", op)
		}
		f.Value = raw
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if kind == KindString || kind == KindBool {
			return f, fmt.Errorf("%s is only supported on numeric and date fields", op)
		}
		v, err := parseValue(kind, raw)
		if err != nil {
			return f, err
		}
		f.Value = v
	case OpEquals, OpNotEquals:
		v, err := parseValue(kind, raw)
		if err != nil {
			return f, err
		}
		f.Value = v
	default:
		return f, fmt.Errorf("unknown operator %q", op)
	}

	return f, nil
}

func parseValue(kind FieldKind, raw string) (any, error) {
	switch kind {
	case KindInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return v, nil
	case KindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return v, nil
	case KindTime:
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RFC3339 time %q", raw)
		}
		return v.UTC(), nil
	default:
		return raw, nil
	}
}

// applyFilters adds the WHERE clauses. Field names come from a FieldSet, never
// from user input directly.
func applyFilters(db *gorm.DB, filters []Filter) *gorm.DB {
	for _, f := range filters {
		col := f.Field
		switch f.Op {
		case OpEquals:
			db = db.Where(col+" = ?", f.Value)
		case OpNotEquals:
			db = db.Where(col+" <> ?", f.Value)
		case OpIn:
			db = db.Where(col+" IN ?", f.Value)
		case OpNotIn:
			db = db.Where(col+" NOT IN ?", f.Value)
		case OpSpecified:
			if f.Value.(bool) {
				db = db.Where(col + " IS NOT NULL")
			} else {
				db = db.Where(col + " IS NULL")
			}
		case OpContains:
			db = db.Where("LOWER("+col+") LIKE ? ESCAPE '\\'", likePattern(f.Value.(string)))
		case OpDoesNotContain:
			db = db.Where("("+col+" IS NULL OR LOWER("+col+") NOT LIKE ? ESCAPE '\\')", likePattern(f.Value.(string)))
		case OpGreaterThan:
			db = db.Where(col+" > ?", f.Value)
		case OpGreaterThanOrEqual:
			db = db.Where(col+" >= ?", f.Value)
		case OpLessThan:
			db = db.Where(col+" < ?", f.Value)
		case OpLessThanOrEqual:
			db = db.Where(col+" <= ?", f.Value)
		}
	}
	return db
}

func applySorts(db *gorm.DB, sorts []Sort, fallback string) *gorm.DB {
	if len(sorts) == 0 {
		return db.Order(fallback)
	}
	for _, s := range sorts {
		if s.Desc {
			db = db.Order(s.Field + " DESC")
		} else {
			db = db.Order(s.Field + " ASC")
		}
	}
	return db
}

// likePattern builds a substring pattern for LIKE ... ESCAPE '\'. The escape
// character itself is escaped first so that user input cannot consume it.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(s)) + "%"
}
