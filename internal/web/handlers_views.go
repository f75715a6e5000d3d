package web

import (
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
	"github.com/JonMunkholm/fluent/internal/views"
)

func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	rows, err := s.layer.Query(r.Context(), core.NewQuery(core.EntityInventory))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	low := views.LowStock(rows)
	writeJSON(w, r, http.StatusOK, QueryResponse{Entity: core.EntityInventory, Count: len(low), Rows: low})
}

// handleConsented lists customers with GDPR consent. ?marketing=true
// narrows the list to those who also accepted marketing.
func (s *Server) handleConsented(w http.ResponseWriter, r *http.Request) {
	marketing, _ := strconv.ParseBool(r.URL.Query().Get("marketing"))

	d := core.NewQuery(core.EntityCustomers).Select(schema.CustomerListColumns...)
	rows, err := s.layer.Query(r.Context(), d)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var out []core.Row
	if marketing {
		out = views.MarketingConsented(rows)
	} else {
		out = views.Consented(rows)
	}
	writeJSON(w, r, http.StatusOK, QueryResponse{Entity: core.EntityCustomers, Count: len(out), Rows: out})
}

// handleDashboard reads the four dashboard entities concurrently through the
// cache and summarizes them.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var in views.DashboardInput

	g, ctx := errgroup.WithContext(r.Context())
	load := func(entity core.Entity, dst *[]core.Row) {
		g.Go(func() error {
			rows, err := s.layer.Query(ctx, core.NewQuery(entity))
			*dst = rows
			return err
		})
	}
	load(core.EntityOrders, &in.Orders)
	load(core.EntityCustomers, &in.Customers)
	load(core.EntityInvoices, &in.Invoices)
	load(core.EntityInventory, &in.Inventory)

	if err := g.Wait(); err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, views.Summarize(in))
}
