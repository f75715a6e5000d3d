package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fluent/internal/core"
)

// EntityInfo describes one registered entity for API clients.
type EntityInfo struct {
	Name     core.Entity  `json:"name"`
	Group    string       `json:"group"`
	Label    string       `json:"label"`
	ReadOnly bool         `json:"read_only"`
	Columns  []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResponse is the body of a one-shot read.
type QueryResponse struct {
	Entity core.Entity `json:"entity"`
	Count  int         `json:"count"`
	Rows   []core.Row  `json:"rows"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := core.All()
	out := make([]EntityInfo, len(defs))
	for i, def := range defs {
		cols := make([]ColumnInfo, len(def.Columns))
		for j, c := range def.Columns {
			cols[j] = ColumnInfo{Name: c.Name, Type: columnTypeName(c.Type)}
		}
		out[i] = EntityInfo{
			Name:     def.Name,
			Group:    def.Group,
			Label:    def.Label,
			ReadOnly: def.ReadOnly,
			Columns:  cols,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	entity := core.Entity(chi.URLParam(r, "entity"))

	d, err := parseDescriptor(entity, r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rows, err := s.layer.Query(r.Context(), d)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, QueryResponse{Entity: entity, Count: len(rows), Rows: nonNil(rows)})
}

// parseDescriptor reads a query descriptor from URL parameters:
//
//	?select=id,sku,quantity&filter[category]=Brakes&filter[quantity]=15
//
// Filter values are converted to the column's type.
func parseDescriptor(entity core.Entity, q url.Values) (core.QueryDescriptor, error) {
	def, ok := core.Lookup(entity)
	if !ok {
		return core.QueryDescriptor{}, &core.InvalidFilterError{Entity: entity, Reason: "unknown entity"}
	}

	d := core.NewQuery(entity)
	if sel := strings.TrimSpace(q.Get("select")); sel != "" {
		var cols []string
		for _, c := range strings.Split(sel, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
		d = d.Select(cols...)
	}

	for key, vals := range q {
		field, ok := filterField(key)
		if !ok || len(vals) == 0 {
			continue
		}
		v, err := def.ParseValue(field, vals[len(vals)-1])
		if err != nil {
			return core.QueryDescriptor{}, err
		}
		d = d.Where(field, v)
	}

	return d, nil
}

// filterField extracts "status" from "filter[status]".
func filterField(key string) (string, bool) {
	if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
		return "", false
	}
	field := key[len("filter[") : len(key)-1]
	return field, field != ""
}

func columnTypeName(t core.ColumnType) string {
	switch t {
	case core.ColumnNumeric:
		return "numeric"
	case core.ColumnBool:
		return "bool"
	case core.ColumnTimestamp:
		return "timestamp"
	case core.ColumnJSON:
		return "json"
	default:
		return "text"
	}
}

func nonNil(rows []core.Row) []core.Row {
	if rows == nil {
		return []core.Row{}
	}
	return rows
}
