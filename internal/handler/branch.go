package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/comanda/internal/domain/auth"
	"github.com/xenking/comanda/internal/domain/branch"
)

func (h *Handler) getBranch(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	b, err := h.branches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(b.ID)
	e.FieldStart("name")
	e.Str(b.Name)
	e.FieldStart("address")
	e.Str(b.Address)
	e.FieldStart("phone")
	e.Str(b.Phone)
	e.FieldStart("open_now")
	e.Bool(b.IsOpenAt(h.clock.Now().In(h.location)))
	e.FieldStart("schedule")
	writeSchedule(&e, b.Schedule)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func writeSchedule(e *jx.Encoder, entries []branch.ScheduleEntry) {
	e.ArrStart()
	for _, s := range entries {
		e.ObjStart()
		e.FieldStart("day")
		e.Str(strings.ToLower(s.Day.String()))
		e.FieldStart("opens")
		e.Str(branch.FormatClock(s.Opens))
		e.FieldStart("closes")
		e.Str(branch.FormatClock(s.Closes))
		e.ObjEnd()
	}
	e.ArrEnd()
}
