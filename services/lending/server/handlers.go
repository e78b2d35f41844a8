package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"blendrates/services/lending/api"
	"blendrates/services/lending/engine"
)

const maxBodyBytes = 1 << 20

var errMalformedRequest = errors.New("malformed request")

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	var req api.RatesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reserve, err := req.Reserve.State()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rates, err := s.engine.Rates(r.Context(), engine.RatesRequest{Reserve: reserve, BackstopTakeRate: req.BackstopTakeRate})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RatesResponse{
		ReserveID:        rates.ReserveID,
		Utilization:      rates.Utilization,
		BorrowAPR:        rates.BorrowAPR,
		BorrowAPRPercent: rates.BorrowAPRPercent,
		SupplyAPR:        rates.SupplyAPR,
		SupplyAPRPercent: rates.SupplyAPRPercent,
		BorrowAPY:        api.APY{Value: rates.BorrowAPY.Value, Clamped: rates.BorrowAPY.Clamped},
		SupplyAPY:        api.APY{Value: rates.SupplyAPY.Value, Clamped: rates.SupplyAPY.Clamped},
		Modifier:         rates.Modifier,
		ModifierSource:   rates.ModifierSource,
	})
}

func (s *Server) handleValidateCurve(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateCurveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	curve, err := req.Curve.Curve()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.engine.ValidateCurve(r.Context(), curve)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.ValidationResponse{
		IsValid:  report.IsValid,
		Issues:   nonNil(report.Issues),
		Warnings: nonNil(report.Warnings),
		Report:   report.String(),
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, resp.Report)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetModifier(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Modifier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toModifierResponse(state))
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req api.ObservationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	obs := engine.Observation{
		ReserveID:   chi.URLParam(r, "id"),
		Utilization: req.Utilization,
	}
	if req.Curve != nil {
		curve, err := req.Curve.Curve()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		obs.Curve = curve
	}
	if req.Reserve != nil {
		reserve, err := req.Reserve.State()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		obs.Reserve = &reserve
	}
	if req.ObservedAt != nil {
		obs.ObservedAt = req.ObservedAt.UTC()
	}
	state, err := s.engine.ObserveUtilization(r.Context(), obs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if state.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toModifierResponse(state))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit %q", errMalformedRequest, raw))
			return
		}
		limit = parsed
	}
	id := chi.URLParam(r, "id")
	entries, err := s.engine.History(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.HistoryResponse{ReserveID: strings.TrimSpace(id), Entries: make([]api.HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, api.HistoryEntry{
			ID:               e.ID,
			Utilization:      e.Utilization,
			PreviousModifier: e.PreviousModifier,
			NextModifier:     e.NextModifier,
			Created:          e.Created,
			ObservedAt:       e.ObservedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toModifierResponse(state engine.ModifierState) api.ModifierResponse {
	return api.ModifierResponse{
		ReserveID:         state.ReserveID,
		Modifier:          state.Modifier,
		LastUpdateTime:    state.LastUpdateTime.UTC(),
		TargetUtilization: state.TargetUtilization,
		Reactivity:        state.Reactivity,
		Created:           state.Created,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("encode response", slog.Any("error", err))
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
