package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/giveaway"
	"github.com/tlw-bit/cherbot/internal/middleware"
	"github.com/tlw-bit/cherbot/internal/models"
	"github.com/tlw-bit/cherbot/internal/raffle"
	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/internal/xp"
	"github.com/tlw-bit/cherbot/pkg/errorx"
)

// API exposes read-only bot state over HTTP plus a small authenticated
// admin surface.
type API struct {
	store     *store.Store
	raffles   *raffle.Engine
	giveaways *giveaway.Engine
	xp        *xp.Tracker
	auth      *middleware.AdminAuth
	log       zerolog.Logger
}

func NewAPI(st *store.Store, r *raffle.Engine, g *giveaway.Engine, x *xp.Tracker, auth *middleware.AdminAuth, log zerolog.Logger) *API {
	return &API{store: st, raffles: r, giveaways: g, xp: x, auth: auth, log: log}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)
	r.Get("/api/raffles", a.listRaffles)
	r.Get("/api/giveaways", a.listGiveaways)
	r.Get("/api/leaderboard", a.leaderboard)

	r.Group(func(r chi.Router) {
		r.Use(a.auth.Middleware)
		r.Get("/admin/state", a.dumpState)
		r.Post("/admin/giveaways/{id}/end", a.endGiveaway)
	})
	return r
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type raffleView struct {
	Key       string `json:"key"`
	Active    bool   `json:"active"`
	Capacity  int    `json:"capacity"`
	Claimed   int    `json:"claimed"`
	PriceText string `json:"price,omitempty"`
	EndsAt    int64  `json:"endsAt,omitempty"`
	HostID    string `json:"hostId,omitempty"`
}

func (a *API) listRaffles(w http.ResponseWriter, r *http.Request) {
	var out []raffleView
	a.store.View(func(doc *models.Document) {
		for key, raf := range doc.Raffles {
			if raf.Capacity == 0 {
				continue
			}
			out = append(out, raffleView{
				Key:       key,
				Active:    raf.Active,
				Capacity:  raf.Capacity,
				Claimed:   raf.ClaimedCount(),
				PriceText: raf.PriceText,
				EndsAt:    raf.EndsAt,
				HostID:    raf.HostID,
			})
		}
	})
	if out == nil {
		out = []raffleView{}
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) listGiveaways(w http.ResponseWriter, r *http.Request) {
	listings := a.giveaways.List(r.Context())
	if listings == nil {
		listings = []giveaway.Listing{}
	}
	a.writeJSON(w, http.StatusOK, listings)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries := a.xp.Leaderboard(25)
	if entries == nil {
		entries = []xp.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

// dumpState returns the whole persisted document for debugging.
func (a *API) dumpState(w http.ResponseWriter, r *http.Request) {
	var cp models.Document
	a.store.View(func(doc *models.Document) {
		cp = *doc
	})
	a.writeJSON(w, http.StatusOK, cp)
}

func (a *API) endGiveaway(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.giveaways.End(r.Context(), id, r.URL.Query().Get("reroll") == "1")
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errorx.Is(err, errorx.NotFound):
			status = http.StatusNotFound
		case errorx.Is(err, errorx.AlreadyEnded):
			status = http.StatusConflict
		}
		a.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"id": res.ID, "winners": res.Winners})
}

// Serve runs the HTTP listener until ctx is cancelled.
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	a.log.Info().Str("addr", addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
